package app

import (
	"context"

	"polyedge-bot/internal/journal"

	"go.uber.org/zap"
)

// refreshMarkets rediscovers markets and detects hourly rollover. A new
// slug means the previous market settled, so its position and per-asset
// strategy state are dropped.
func (a *App) refreshMarkets(ctx context.Context) {
	for _, asset := range a.wallet.Assets {
		if ctx.Err() != nil {
			return
		}
		if err := a.markets.Refresh(ctx, asset); err != nil {
			a.log.Debug("market refresh failed", zap.String("asset", asset), zap.Error(err))
		}
		m, ok := a.markets.Market(asset)
		if !ok {
			continue
		}
		a.tradeMu.Lock()
		prev := a.slugs[asset]
		a.slugs[asset] = m.Slug
		stale := false
		if pos := a.book.Position(asset); pos != nil && pos.Market != "" && pos.Market != m.Slug {
			stale = true
		}
		if (prev != "" && prev != m.Slug) || stale {
			a.rollover(ctx, asset, prev, m.Slug)
		}
		a.tradeMu.Unlock()
	}
}

func (a *App) rollover(ctx context.Context, asset, from, to string) {
	now := a.now()
	if pos := a.book.Position(asset); pos != nil {
		a.log.Info("position settled with market",
			zap.String("asset", asset),
			zap.String("market", pos.Market),
			zap.Bool("hedged", pos.IsHedged),
			zap.Float64("expected_pnl", pos.ExpectedPnL),
		)
	}
	a.book.Clear(asset)
	a.strategies.Reset(asset, now)
	delete(a.safetyUntil, asset)
	a.persist(ctx)
	a.log.Info("market rolled over", zap.String("asset", asset), zap.String("from", from), zap.String("to", to))
}

func (a *App) syncOnce(ctx context.Context) {
	a.syncBalance(ctx)
	for _, asset := range a.wallet.Assets {
		if ctx.Err() != nil {
			return
		}
		a.reconcile(ctx, asset)
	}
	a.recordPnL(ctx)
	a.persist(ctx)
}

// syncBalance reads the exchange balance and resets reservations inside the
// trading critical section, so no entry can be placed between the read and
// the reset and then lose its reservation.
func (a *App) syncBalance(ctx context.Context) {
	a.tradeMu.Lock()
	defer a.tradeMu.Unlock()
	balance, err := a.gateway.Balance(ctx)
	if err != nil {
		a.log.Warn("balance sync failed", zap.Error(err))
		return
	}
	a.book.SyncBalance(balance)
	a.metrics.Balance.Set(balance)
}

// reconcile adopts exchange positions the book does not know about. Local
// positions win when both exist since they carry strategy ownership.
func (a *App) reconcile(ctx context.Context, asset string) {
	remote, err := a.gateway.OpenPosition(ctx, asset)
	if err != nil {
		a.log.Debug("position lookup failed", zap.String("asset", asset), zap.Error(err))
		return
	}
	if remote == nil {
		return
	}
	a.tradeMu.Lock()
	defer a.tradeMu.Unlock()
	if a.book.Position(asset) != nil {
		return
	}
	adopted := *remote
	adopted.Asset = asset
	adopted.Strategy = ""
	adopted.Market = a.slugs[asset]
	if adopted.OpenedAt.IsZero() {
		adopted.OpenedAt = a.now()
	}
	a.book.Set(adopted)
	a.log.Info("adopted exchange position",
		zap.String("asset", asset),
		zap.String("direction", string(adopted.Direction)),
		zap.Float64("size", adopted.Size),
		zap.Float64("entry_price", adopted.EntryPrice),
		zap.Bool("hedged", adopted.IsHedged),
	)
}

func (a *App) recordPnL(ctx context.Context) {
	balance, reserved := a.book.Balance()
	snap := journal.PnLSnapshot{
		Time:     a.now(),
		Wallet:   a.wallet.Name,
		Balance:  balance,
		Reserved: reserved,
	}
	for _, pos := range a.book.Positions() {
		snap.OpenPositions++
		if pos.IsHedged {
			snap.HedgedCount++
			snap.ExpectedPnL += pos.ExpectedPnL
			continue
		}
		quote, err := a.gateway.Snapshot(ctx, pos.Asset)
		if err != nil {
			continue
		}
		if bid := quote.Bid(pos.Direction); bid > 0 {
			snap.UnrealizedPnL += (bid - pos.EntryPrice) * pos.Size
		}
	}
	a.emit(Event{Kind: EventPnL, PnL: snap})
}

