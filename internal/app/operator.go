package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"polyedge-bot/internal/alerts"
	"polyedge-bot/internal/config"
	"polyedge-bot/internal/state"

	"go.uber.org/zap"
)

const (
	operatorOffsetKey   = "telegram:operator:last_update_id"
	defaultOperatorPoll = 3 * time.Second
)

type operatorTransport interface {
	Send(ctx context.Context, message string) error
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error)
}

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	Wallet       string    `json:"wallet"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
	StopBefore   *float64  `json:"stoploss_before,omitempty"`
	StopAfter    *float64  `json:"stoploss_after,omitempty"`
	Locked       int       `json:"locked,omitempty"`
}

// Operator serves Telegram commands for every wallet in the process.
type Operator struct {
	cfg       config.TelegramConfig
	transport operatorTransport
	store     state.Store
	apps      []*App
	log       *zap.Logger
	now       func() time.Time
	warned    bool
}

func NewOperator(cfg config.TelegramConfig, transport operatorTransport, store state.Store, apps []*App, log *zap.Logger) *Operator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Operator{
		cfg:       cfg,
		transport: transport,
		store:     store,
		apps:      apps,
		log:       log,
		now:       time.Now,
	}
}

// Run long-polls for commands until ctx ends. It returns at once when the
// operator is disabled or misconfigured.
func (o *Operator) Run(ctx context.Context) error {
	if !o.cfg.OperatorEnabled || o.transport == nil {
		return nil
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(o.cfg.ChatID), 10, 64)
	if err != nil {
		o.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return nil
	}
	poll := o.cfg.OperatorPollInterval
	if poll <= 0 {
		poll = defaultOperatorPoll
	}
	allowed := make(map[int64]struct{}, len(o.cfg.OperatorAllowedUserIDs))
	for _, id := range o.cfg.OperatorAllowedUserIDs {
		allowed[id] = struct{}{}
	}
	o.log.Info("telegram operator started", zap.Int("wallets", len(o.apps)))

	offset := o.loadOffset(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := o.transport.GetUpdates(ctx, offset, poll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.logError(err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(poll):
			}
			continue
		}
		if o.warned {
			o.log.Info("telegram operator recovered")
			o.warned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				o.saveOffset(ctx, offset)
			}
			o.handleUpdate(ctx, upd, chatID, allowed)
		}
	}
}

func (o *Operator) handleUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowed map[int64]struct{}) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowed) > 0 {
		if _, ok := allowed[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := o.handleCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := o.transport.Send(ctx, resp); err != nil {
		o.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Commands addressed in group chats arrive as /cmd@botname.
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", nil, false
	}
	return cmd, fields[1:], true
}

func (o *Operator) handleCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return o.status(), nil
	case "pause", "resume":
		targets, _, err := o.targets(args)
		if err != nil {
			return "", err
		}
		return o.setPaused(ctx, targets, cmd == "pause", meta), nil
	case "lock":
		targets, rest, err := o.targets(args)
		if err != nil {
			return "", err
		}
		asset := ""
		if len(rest) > 0 {
			asset = strings.ToUpper(rest[0])
		}
		return o.lock(ctx, targets, asset, meta), nil
	case "risk":
		return o.handleRiskCommand(ctx, args, meta)
	default:
		return operatorHelpText(), nil
	}
}

// targets resolves an optional leading wallet name. Without one every
// wallet is addressed and args pass through untouched.
func (o *Operator) targets(args []string) ([]*App, []string, error) {
	if len(args) == 0 {
		return o.apps, nil, nil
	}
	for _, a := range o.apps {
		if strings.EqualFold(a.Name(), args[0]) {
			return []*App{a}, args[1:], nil
		}
	}
	if len(o.apps) == 1 {
		return o.apps, args, nil
	}
	return nil, nil, fmt.Errorf("unknown wallet %q", args[0])
}

func (o *Operator) setPaused(ctx context.Context, targets []*App, paused bool, meta operatorMeta) string {
	action := "resume"
	if paused {
		action = "pause"
	}
	lines := make([]string, 0, len(targets))
	for _, a := range targets {
		before := a.setPaused(paused)
		o.audit(ctx, meta, operatorAuditEvent{
			Action:       action,
			Wallet:       a.Name(),
			PausedBefore: before,
			PausedAfter:  paused,
		})
		switch {
		case before == paused && paused:
			lines = append(lines, fmt.Sprintf("%s: trading already paused", a.Name()))
		case before == paused:
			lines = append(lines, fmt.Sprintf("%s: trading already active", a.Name()))
		case paused:
			lines = append(lines, fmt.Sprintf("%s: trading paused", a.Name()))
		default:
			lines = append(lines, fmt.Sprintf("%s: trading resumed", a.Name()))
		}
	}
	return strings.Join(lines, "\n")
}

func (o *Operator) lock(ctx context.Context, targets []*App, asset string, meta operatorMeta) string {
	lines := make([]string, 0, len(targets))
	for _, a := range targets {
		n := a.lockAll(ctx, asset, "operator lock")
		o.audit(ctx, meta, operatorAuditEvent{
			Action:       "lock",
			Wallet:       a.Name(),
			PausedBefore: a.isPaused(),
			PausedAfter:  a.isPaused(),
			Locked:       n,
		})
		lines = append(lines, fmt.Sprintf("%s: locked %d position(s)", a.Name(), n))
	}
	return strings.Join(lines, "\n")
}

func (o *Operator) handleRiskCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 || strings.EqualFold(args[0], "show") {
		return o.riskStatus(), nil
	}
	switch strings.ToLower(args[0]) {
	case "reset":
		for _, a := range o.apps {
			before := a.stopLossOverride()
			a.setStopLossOverride(nil)
			o.audit(ctx, meta, operatorAuditEvent{Action: "risk_reset", Wallet: a.Name(), StopBefore: before})
		}
		return "risk override cleared", nil
	case "set":
		overrides, err := parseRiskOverrides(args[1:])
		if err != nil {
			return "", err
		}
		stop, err := applyRiskOverrides(overrides)
		if err != nil {
			return "", err
		}
		for _, a := range o.apps {
			before := a.stopLossOverride()
			next := stop
			if next == a.cfg.Strategy.GlobalStopLossPct {
				a.setStopLossOverride(nil)
			} else {
				a.setStopLossOverride(&next)
			}
			o.audit(ctx, meta, operatorAuditEvent{
				Action:     "risk_set",
				Wallet:     a.Name(),
				StopBefore: before,
				StopAfter:  a.stopLossOverride(),
			})
		}
		return "risk override updated", nil
	default:
		return "", errors.New("unknown risk command: use /risk show|set|reset")
	}
}

func parseRiskOverrides(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("risk set requires key=value pairs")
	}
	out := make(map[string]string)
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		if !ok || key == "" || val == "" {
			return nil, fmt.Errorf("invalid risk setting: %s", arg)
		}
		out[key] = val
	}
	return out, nil
}

// applyRiskOverrides returns the requested global stop-loss percentage.
func applyRiskOverrides(overrides map[string]string) (float64, error) {
	var stop float64
	found := false
	for key, val := range overrides {
		switch key {
		case "stoploss_pct":
			parsed, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return 0, fmt.Errorf("stoploss_pct: %w", err)
			}
			if parsed <= 0 || parsed >= 100 {
				return 0, errors.New("stoploss_pct must be within (0, 100)")
			}
			stop = parsed
			found = true
		default:
			return 0, fmt.Errorf("unknown risk key: %s", key)
		}
	}
	if !found {
		return 0, errors.New("risk set requires stoploss_pct")
	}
	return stop, nil
}

func (o *Operator) status() string {
	if len(o.apps) == 0 {
		return "status unavailable"
	}
	lines := make([]string, 0, len(o.apps)*3)
	for _, a := range o.apps {
		balance, reserved := a.book.Balance()
		lines = append(lines, fmt.Sprintf("%s: paused=%t balance=%.2f reserved=%.2f stoploss=%.2f%%",
			a.Name(), a.isPaused(), balance, reserved, a.stopLossPct()))
		positions := a.book.Positions()
		if len(positions) == 0 {
			lines = append(lines, "  no open positions")
			continue
		}
		for _, pos := range positions {
			owner := string(pos.Strategy)
			if owner == "" {
				owner = "reconciled"
			}
			line := fmt.Sprintf("  %s %s %.2f @ %.3f (%s)", pos.Asset, pos.Direction, pos.Size, pos.EntryPrice, owner)
			if pos.IsHedged {
				line += fmt.Sprintf(" hedged %s, expected pnl %.2f", pos.HedgeType, pos.ExpectedPnL)
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func (o *Operator) riskStatus() string {
	lines := make([]string, 0, len(o.apps))
	for _, a := range o.apps {
		override := "none"
		if v := a.stopLossOverride(); v != nil {
			override = fmt.Sprintf("%.2f%%", *v)
		}
		lines = append(lines, fmt.Sprintf("%s: stoploss effective %.2f%%, override %s", a.Name(), a.stopLossPct(), override))
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - balances and open positions per wallet",
		"/pause [wallet] - stop opening new positions",
		"/resume [wallet] - resume new positions",
		"/lock [wallet] [asset] - hedge unhedged positions now",
		"/risk show - show the global stop-loss",
		"/risk set stoploss_pct=value - override the global stop-loss",
		"/risk reset - clear the override",
	}, "\n")
}

func (a *App) stopLossOverride() *float64 {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	if a.stopOverride == nil {
		return nil
	}
	v := *a.stopOverride
	return &v
}

func (a *App) setStopLossOverride(v *float64) {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.stopOverride = v
}

func (o *Operator) logError(err error) {
	if o.warned {
		return
	}
	o.warned = true
	o.log.Warn("telegram operator failed", zap.Error(err))
}

func (o *Operator) loadOffset(ctx context.Context) int64 {
	if o.store == nil {
		return 0
	}
	raw, ok, err := o.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (o *Operator) saveOffset(ctx context.Context, offset int64) {
	if o.store == nil {
		return
	}
	_ = o.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (o *Operator) audit(ctx context.Context, meta operatorMeta, event operatorAuditEvent) {
	if o.store == nil {
		return
	}
	now := o.now().UTC()
	event.UpdateID = meta.UpdateID
	event.Time = now
	event.Command = meta.Raw
	event.UserID = meta.UserID
	event.Username = meta.Username
	event.ChatID = meta.ChatID
	key := fmt.Sprintf("ops:audit:%d:%d:%s:%s", now.UnixNano(), event.UpdateID, event.Wallet, event.Action)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = o.store.Set(ctx, key, string(payload))
}
