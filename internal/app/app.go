package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"polyedge-bot/internal/config"
	"polyedge-bot/internal/exec"
	"polyedge-bot/internal/journal"
	"polyedge-bot/internal/metrics"
	"polyedge-bot/internal/polymarket"
	"polyedge-bot/internal/state"
	"polyedge-bot/internal/strategy"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEventBuffer = 256
	alertTimeout       = 5 * time.Second
)

// MarketSource keeps the active hourly market per asset current.
type MarketSource interface {
	Refresh(ctx context.Context, asset string) error
	Market(asset string) (polymarket.Market, bool)
}

type Journal interface {
	WriteTrade(ctx context.Context, t journal.Trade) error
	WriteSignal(ctx context.Context, s journal.Signal) error
	WritePnL(ctx context.Context, p journal.PnLSnapshot) error
}

type Alerter interface {
	Send(ctx context.Context, message string) error
}

type Deps struct {
	Gateway exec.Gateway
	Markets MarketSource
	Store   state.Store
	Journal Journal
	Alerts  Alerter
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// App trades one wallet. Every position or reservation change for the wallet
// happens under tradeMu, so ticks, balance syncs, reconciles and operator
// locks never interleave.
type App struct {
	cfg        *config.Config
	wallet     config.WalletConfig
	gateway    exec.Gateway
	markets    MarketSource
	executor   *exec.Executor
	strategies *strategy.Set
	store      state.Store
	journal    Journal
	alerts     Alerter
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time

	book   *Book
	events chan Event

	tradeMu     sync.Mutex
	safetyUntil map[string]time.Time
	slugs       map[string]string

	opsMu        sync.RWMutex
	paused       bool
	stopOverride *float64
}

func New(cfg *config.Config, wallet config.WalletConfig, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if deps.Markets == nil {
		return nil, errors.New("market source is required")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("wallet", wallet.Name))
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	strategies, err := strategy.Build(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", wallet.Name, err)
	}
	buffer := cfg.App.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &App{
		cfg:         cfg,
		wallet:      wallet,
		gateway:     deps.Gateway,
		markets:     deps.Markets,
		executor:    exec.New(deps.Gateway, deps.Store, log).WithPanicDiscount(cfg.App.PanicDiscount),
		strategies:  strategies,
		store:       deps.Store,
		journal:     deps.Journal,
		alerts:      deps.Alerts,
		metrics:     m,
		log:         log,
		now:         time.Now,
		book:        NewBook(),
		events:      make(chan Event, buffer),
		safetyUntil: make(map[string]time.Time),
		slugs:       make(map[string]string),
	}, nil
}

func (a *App) Name() string {
	return a.wallet.Name
}

func (a *App) Assets() []string {
	return a.wallet.Assets
}

// Run restores the persisted book, then runs the trading, market, sync and
// journal loops until ctx ends. Unhedged positions are locked on the way out.
func (a *App) Run(ctx context.Context) error {
	a.restore(ctx)
	a.refreshMarkets(ctx)
	a.syncOnce(ctx)
	if a.cfg.App.CleanupOnStart {
		if n := a.lockAll(ctx, "", "startup cleanup"); n > 0 {
			a.log.Info("startup cleanup locked positions", zap.Int("count", n))
		}
	}
	a.log.Info("wallet started",
		zap.String("mode", a.cfg.App.Mode),
		zap.Strings("assets", a.wallet.Assets),
		zap.Int("strategies", len(a.strategies.All())),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop(gctx, a.cfg.App.TickInterval, a.tick) })
	g.Go(func() error { return a.loop(gctx, a.cfg.App.MarketInterval, a.refreshMarkets) })
	g.Go(func() error { return a.loop(gctx, a.cfg.App.SyncInterval, a.syncOnce) })
	g.Go(func() error { return a.drainEvents(gctx) })
	err := g.Wait()

	a.shutdown()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (a *App) loop(ctx context.Context, every time.Duration, fn func(context.Context)) error {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (a *App) restore(ctx context.Context) {
	snap, ok, err := state.LoadBook(ctx, a.store, a.wallet.Name)
	if err != nil {
		a.log.Warn("book restore failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	a.book.Restore(snap)
	if a.strategies.Sniper != nil {
		a.strategies.Sniper.Restore(snap.Sniper)
	}
	a.log.Info("book restored", zap.Int("positions", len(snap.Positions)))
}

func (a *App) persist(ctx context.Context) {
	var sniper map[string]strategy.SniperState
	if a.strategies.Sniper != nil {
		sniper = a.strategies.Sniper.States()
	}
	snap := a.book.Snapshot(sniper, a.now())
	a.metrics.OpenPositions.Set(float64(len(snap.Positions)))
	if err := state.SaveBook(ctx, a.store, a.wallet.Name, snap); err != nil {
		a.log.Warn("book persist failed", zap.Error(err))
	}
}

func (a *App) alert(ctx context.Context, msg string) {
	if a.alerts == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	if err := a.alerts.Send(actx, fmt.Sprintf("[%s] %s", a.wallet.Name, msg)); err != nil {
		a.log.Warn("alert failed", zap.Error(err))
	}
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	before := a.paused
	a.paused = paused
	return before
}

// stopLossPct is the global stop-loss, honoring an operator override.
func (a *App) stopLossPct() float64 {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	if a.stopOverride != nil {
		return *a.stopOverride
	}
	return a.cfg.Strategy.GlobalStopLossPct
}
