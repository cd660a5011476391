package app

import (
	"context"
	"time"

	"polyedge-bot/internal/strategy"

	"go.uber.org/zap"
)

const defaultShutdownTimeout = 30 * time.Second

// lockAll hedges every unhedged position, or only asset's when asset is
// set, and returns how many were locked.
func (a *App) lockAll(ctx context.Context, asset, reason string) int {
	a.tradeMu.Lock()
	defer a.tradeMu.Unlock()
	locked := 0
	for _, pos := range a.book.Positions() {
		if pos.IsHedged || (asset != "" && pos.Asset != asset) {
			continue
		}
		snap, err := a.gateway.Snapshot(ctx, pos.Asset)
		if err != nil {
			a.log.Warn("lock skipped, no snapshot", zap.String("asset", pos.Asset), zap.Error(err))
			continue
		}
		held := pos
		sig := strategy.LockSignal(&held, snap, strategy.HedgeQuit, reason)
		if !sig.Actionable() {
			a.log.Warn("lock skipped", zap.String("asset", pos.Asset), zap.String("reason", sig.Reason))
			continue
		}
		in := strategy.Input{
			Now:      a.now(),
			Snapshot: snap,
			Eval:     strategy.NewEvaluation(snap, a.cfg.Strategy.SubtractSpread),
			Position: &held,
		}
		if err := a.hedge(ctx, in, sig); err == nil {
			locked++
		}
	}
	return locked
}

// shutdown locks open exposure with a fresh deadline since the run context
// is already cancelled.
func (a *App) shutdown() {
	timeout := a.cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n := a.lockAll(ctx, "", "quit lock")
	a.persist(ctx)
	a.flushEvents(ctx)
	a.log.Info("wallet stopped", zap.Int("locked", n))
}
