package app

import (
	"context"
	"fmt"

	"polyedge-bot/internal/exec"
	"polyedge-bot/internal/journal"
	"polyedge-bot/internal/strategy"

	"go.uber.org/zap"
)

func (a *App) tick(ctx context.Context) {
	for _, asset := range a.wallet.Assets {
		if ctx.Err() != nil {
			return
		}
		a.processAsset(ctx, asset)
	}
}

// processAsset runs one decision pass for an asset. The first actionable
// signal is executed and ends the pass.
func (a *App) processAsset(ctx context.Context, asset string) {
	snap, err := a.gateway.Snapshot(ctx, asset)
	if err != nil {
		a.log.Debug("snapshot unavailable", zap.String("asset", asset), zap.Error(err))
		return
	}
	if !snap.Ready() {
		a.log.Debug("market data incomplete", zap.String("asset", asset))
		return
	}

	a.tradeMu.Lock()
	defer a.tradeMu.Unlock()

	now := a.now()
	pos := a.book.Position(asset)
	in := strategy.Input{
		Now:      now,
		Snapshot: snap,
		Eval:     strategy.NewEvaluation(snap, a.cfg.Strategy.SubtractSpread),
		Position: pos,
	}

	if pos != nil && !pos.IsHedged {
		if until, ok := a.safetyUntil[asset]; !ok || !now.Before(until) {
			if sig := strategy.SafetySignal(pos, snap, a.stopLossPct()); sig.Actionable() {
				a.observe(asset, sig)
				if err := a.hedge(ctx, in, sig); err != nil {
					a.safetyUntil[asset] = now.Add(a.cfg.App.SafetyBackoff)
				} else {
					delete(a.safetyUntil, asset)
				}
				return
			}
		}
	}

	if sn := a.strategies.Sniper; sn != nil {
		if sig := sn.HedgeSignal(in); sig.Actionable() {
			a.observe(asset, sig)
			_ = a.hedge(ctx, in, sig)
			return
		}
	}
	if pos != nil && pos.IsHedged {
		return
	}
	paused := a.isPaused()

	if sn := a.strategies.Sniper; sn != nil && !paused {
		if sig := sn.Evaluate(in); sig.Actionable() {
			a.observe(asset, sig)
			a.enter(ctx, in, sn, sig)
			return
		}
	}
	if arb := a.strategies.Arbitrage; arb != nil && !paused {
		if sig := arb.Evaluate(in); sig.Actionable() {
			a.observe(asset, sig)
			a.arbitrage(ctx, in, sig)
			return
		}
	}
	if eh := a.strategies.EdgeHedge; eh != nil && (pos != nil || !paused) {
		if sig := eh.Evaluate(in); sig.Actionable() {
			a.observe(asset, sig)
			if sig.Action == strategy.ActionEnter {
				a.enter(ctx, in, eh, sig)
			} else {
				_ = a.hedge(ctx, in, sig)
			}
			return
		}
	}
	if tr := a.strategies.Trend; tr != nil && (pos != nil || !paused) {
		if sig := tr.Evaluate(in); sig.Actionable() {
			a.observe(asset, sig)
			if sig.Action == strategy.ActionEnter {
				a.enter(ctx, in, tr, sig)
			} else {
				_ = a.hedge(ctx, in, sig)
			}
		}
	}
}

func (a *App) observe(asset string, sig strategy.Signal) {
	a.metrics.SignalsEmitted.Inc()
	a.log.Info("signal",
		zap.String("asset", asset),
		zap.String("strategy", string(sig.Strategy)),
		zap.String("action", string(sig.Action)),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("edge", sig.Edge),
		zap.String("reason", sig.Reason),
	)
	a.emit(Event{Kind: EventSignal, Signal: journal.Signal{
		Time:       a.now(),
		Wallet:     a.wallet.Name,
		Asset:      asset,
		Strategy:   string(sig.Strategy),
		Action:     string(sig.Action),
		Direction:  string(sig.Direction),
		Edge:       sig.Edge,
		Confidence: sig.Confidence,
		Reason:     sig.Reason,
	}})
}

// owner is the strategy whose lifecycle a position belongs to. Reconciled
// positions fall to edge-hedge.
func (a *App) owner(pos *strategy.Position) strategy.Strategy {
	if pos == nil {
		return nil
	}
	name := pos.Strategy
	if name == "" {
		name = strategy.NameEdgeHedge
	}
	return a.strategies.Get(name)
}

// enter buys the signal's direction with USDC, reserving the stake until
// the next balance sync.
func (a *App) enter(ctx context.Context, in strategy.Input, strat strategy.Strategy, sig strategy.Signal) {
	asset := in.Snapshot.Asset
	amount := sig.AmountUSDC
	if !a.book.Reserve(amount) {
		balance, reserved := a.book.Balance()
		a.metrics.EntriesSkipped.Inc()
		a.log.Info("entry skipped, insufficient free balance",
			zap.String("asset", asset),
			zap.String("strategy", string(sig.Strategy)),
			zap.Float64("amount", amount),
			zap.Float64("balance", balance),
			zap.Float64("reserved", reserved),
		)
		return
	}
	order := exec.Order{
		Asset:         asset,
		Direction:     sig.Direction,
		Side:          exec.Buy,
		AmountUSDC:    amount,
		LimitPrice:    sig.Price,
		ClientOrderID: exec.NewClientOrderID(),
		Strategy:      sig.Strategy,
	}
	fill, err := a.executor.PlaceOrder(ctx, order)
	if err != nil {
		a.book.Release(amount)
		a.metrics.OrdersFailed.Inc()
		a.log.Warn("entry failed", zap.String("asset", asset), zap.String("strategy", string(sig.Strategy)), zap.Error(err))
		a.trade(order, sig, exec.Fill{}, false, err.Error())
		return
	}
	a.metrics.OrdersPlaced.Inc()

	pos := in.Position
	if pos != nil && pos.Strategy == sig.Strategy && pos.Direction == sig.Direction && !pos.IsHedged {
		pos.Add(fill.Size, fill.AvgPrice)
	} else {
		pos = &strategy.Position{
			Asset:      asset,
			Market:     a.slugs[asset],
			Direction:  sig.Direction,
			EntryPrice: fill.AvgPrice,
			Size:       fill.Size,
			Cost:       fill.Size * fill.AvgPrice,
			Strategy:   sig.Strategy,
			Tag:        sig.Tag,
			OpenedAt:   in.Now,
		}
		if prob, ok := sig.Metadata["entry_prob"].(float64); ok {
			pos.EntryProb = prob
		}
	}
	a.book.Set(*pos)
	strat.Confirm(in, sig, strategy.Fill{Size: fill.Size, Price: fill.AvgPrice, At: a.now()})
	a.trade(order, sig, fill, true, sig.Reason)
	a.persist(ctx)
	a.log.Info("position entered",
		zap.String("asset", asset),
		zap.String("strategy", string(sig.Strategy)),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("size", fill.Size),
		zap.Float64("price", fill.AvgPrice),
	)
}

// hedge buys the opposite side of the held position and freezes it.
func (a *App) hedge(ctx context.Context, in strategy.Input, sig strategy.Signal) error {
	pos := in.Position
	if pos == nil {
		return strategy.ErrNoPosition
	}
	asset := in.Snapshot.Asset
	order := exec.Order{
		Asset:         asset,
		Direction:     sig.Direction,
		Side:          exec.Buy,
		Size:          sig.Size,
		LimitPrice:    sig.Price,
		ClientOrderID: exec.NewClientOrderID(),
		Strategy:      pos.Strategy,
	}
	fill, err := a.executor.PlaceOrder(ctx, order)
	if err != nil {
		a.metrics.OrdersFailed.Inc()
		a.log.Warn("hedge failed",
			zap.String("asset", asset),
			zap.String("hedge_type", string(sig.HedgeType)),
			zap.Error(err),
		)
		a.trade(order, sig, exec.Fill{}, false, err.Error())
		if sig.HedgeType == strategy.HedgeSafety {
			a.alert(ctx, fmt.Sprintf("safety hedge failed on %s: %v", asset, err))
		}
		return err
	}
	a.metrics.OrdersPlaced.Inc()
	a.metrics.HedgesPlaced.Inc()
	if sig.HedgeType == strategy.HedgeSafety {
		a.metrics.SafetyHedges.Inc()
	}

	locked := *pos
	locked.MarkHedged(sig.Direction, fill.AvgPrice, fill.Size, sig.HedgeType)
	a.book.Set(locked)
	if owner := a.owner(pos); owner != nil {
		owner.Confirm(in, sig, strategy.Fill{Size: fill.Size, Price: fill.AvgPrice, At: a.now()})
	}
	a.trade(order, sig, fill, true, sig.Reason)
	a.persist(ctx)
	a.log.Info("position hedged",
		zap.String("asset", asset),
		zap.String("hedge_type", string(sig.HedgeType)),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("size", fill.Size),
		zap.Float64("price", fill.AvgPrice),
		zap.Float64("expected_pnl", locked.ExpectedPnL),
	)
	a.alert(ctx, fmt.Sprintf("%s hedge %s %s: %.2f @ %.3f, expected pnl %.2f (%s)",
		sig.HedgeType, asset, sig.Direction, fill.Size, fill.AvgPrice, locked.ExpectedPnL, sig.Reason))
	return nil
}

func (a *App) arbitrage(ctx context.Context, in strategy.Input, sig strategy.Signal) {
	asset := in.Snapshot.Asset
	params := sig.Arbitrage
	if params == nil || params.Size <= 0 {
		return
	}
	if !a.book.Reserve(sig.AmountUSDC) {
		a.metrics.EntriesSkipped.Inc()
		a.log.Info("arbitrage skipped, insufficient free balance",
			zap.String("asset", asset), zap.Float64("amount", sig.AmountUSDC))
		return
	}
	res := a.executor.ExecuteArbitrage(ctx, exec.ArbitrageOrder{
		Asset:       asset,
		Size:        params.Size,
		YesMaxPrice: params.YesLimit,
		NoMaxPrice:  params.NoLimit,
		YesBid:      in.Snapshot.UpBid,
		NoBid:       in.Snapshot.DownBid,
	})
	a.emit(Event{Kind: EventTrade, Trade: journal.Trade{
		Time:      a.now(),
		Wallet:    a.wallet.Name,
		Asset:     asset,
		Strategy:  string(strategy.NameArbitrage),
		Action:    string(sig.Action),
		Side:      string(exec.Buy),
		Size:      params.Size,
		Price:     params.Opportunity.TotalCost,
		HedgeType: string(strategy.HedgeArbitrage),
		OrderID:   res.Yes.OrderID,
		Success:   res.Success,
		PanicMode: res.PanicMode,
		Message:   res.Message,
	}})

	switch {
	case res.Success:
		a.metrics.OrdersPlaced.Inc()
		a.metrics.OrdersPlaced.Inc()
		pos := strategy.Position{
			Asset:      asset,
			Market:     a.slugs[asset],
			Direction:  strategy.Up,
			EntryPrice: res.Yes.AvgPrice,
			Size:       res.Yes.Size,
			Cost:       res.Yes.Size * res.Yes.AvgPrice,
			Strategy:   strategy.NameArbitrage,
			OpenedAt:   in.Now,
		}
		pos.MarkHedged(strategy.Down, res.No.AvgPrice, res.No.Size, strategy.HedgeArbitrage)
		a.book.Set(pos)
		a.persist(ctx)
		a.log.Info("arbitrage filled", zap.String("asset", asset), zap.String("result", res.Message),
			zap.Float64("expected_pnl", pos.ExpectedPnL))
		a.alert(ctx, fmt.Sprintf("arbitrage %s: %s", asset, res.Message))
	case res.PanicMode:
		a.book.Release(sig.AmountUSDC)
		a.metrics.OrdersPlaced.Inc()
		a.metrics.PanicUnwinds.Inc()
		a.log.Error("arbitrage panic", zap.String("asset", asset), zap.String("result", res.Message),
			zap.Error(res.UnwindErr))
		if res.UnwindErr != nil {
			a.keepStrandedLeg(ctx, in, res)
		}
		a.alert(ctx, fmt.Sprintf("arbitrage panic on %s: %s", asset, res.Message))
	default:
		a.book.Release(sig.AmountUSDC)
		a.metrics.OrdersFailed.Inc()
		a.log.Warn("arbitrage not filled", zap.String("asset", asset), zap.String("result", res.Message))
	}
}

// keepStrandedLeg books a filled leg whose unwind failed so the global
// stop-loss keeps watching it.
func (a *App) keepStrandedLeg(ctx context.Context, in strategy.Input, res exec.AtomicResult) {
	dir, fill := strategy.Up, res.Yes
	if !res.YesFilled {
		dir, fill = strategy.Down, res.No
	}
	a.book.Set(strategy.Position{
		Asset:      in.Snapshot.Asset,
		Market:     a.slugs[in.Snapshot.Asset],
		Direction:  dir,
		EntryPrice: fill.AvgPrice,
		Size:       fill.Size,
		Cost:       fill.Size * fill.AvgPrice,
		Strategy:   strategy.NameArbitrage,
		OpenedAt:   in.Now,
	})
	a.persist(ctx)
}

func (a *App) trade(order exec.Order, sig strategy.Signal, fill exec.Fill, ok bool, msg string) {
	price := fill.AvgPrice
	size := fill.Size
	if !ok {
		price = order.LimitPrice
		size = order.Size
	}
	a.emit(Event{Kind: EventTrade, Trade: journal.Trade{
		Time:      a.now(),
		Wallet:    a.wallet.Name,
		Asset:     order.Asset,
		Strategy:  string(sig.Strategy),
		Action:    string(sig.Action),
		Direction: string(order.Direction),
		Side:      string(order.Side),
		Size:      size,
		Price:     price,
		HedgeType: string(sig.HedgeType),
		OrderID:   fill.OrderID,
		Success:   ok,
		Message:   msg,
	}})
}
