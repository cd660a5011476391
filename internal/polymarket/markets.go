package polymarket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"polyedge-bot/internal/strategy"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrNoMarket = errors.New("no active market")

// SpotSource supplies the underlying price and volatility.
type SpotSource interface {
	Spot(asset string) (float64, bool)
	Volatility(asset string) float64
}

type bookSource interface {
	Book(ctx context.Context, tokenID string) (Book, error)
}

type marketState struct {
	market Market
	up     Book
	down   Book
	synced time.Time
}

// Markets keeps the active hourly market and its two books per asset.
type Markets struct {
	books     bookSource
	discovery *Discovery
	spot      SpotSource
	log       *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	assets map[string]*marketState
}

func NewMarkets(books bookSource, discovery *Discovery, spot SpotSource, log *zap.Logger) *Markets {
	if log == nil {
		log = zap.NewNop()
	}
	return &Markets{
		books:     books,
		discovery: discovery,
		spot:      spot,
		log:       log,
		now:       time.Now,
		assets:    make(map[string]*marketState),
	}
}

// Refresh rediscovers the market once it has expired and reloads both books.
func (m *Markets) Refresh(ctx context.Context, asset string) error {
	asset = strings.ToUpper(asset)
	now := m.now()
	m.mu.RLock()
	st, ok := m.assets[asset]
	var market Market
	if ok {
		market = st.market
	}
	m.mu.RUnlock()

	if !ok || market.Expired(now) {
		found, err := m.discovery.Find(ctx, asset, now)
		if err != nil {
			return err
		}
		if !ok || found.Slug != market.Slug {
			m.log.Info("market discovered",
				zap.String("asset", asset),
				zap.String("slug", found.Slug),
				zap.Float64("strike", found.Strike),
				zap.Time("end", found.End),
			)
		}
		market = found
	}

	var up, down Book
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		up, err = m.books.Book(gctx, market.UpToken)
		return err
	})
	g.Go(func() error {
		var err error
		down, err = m.books.Book(gctx, market.DownToken)
		return err
	})
	if err := g.Wait(); err != nil {
		m.mu.Lock()
		m.assets[asset] = &marketState{market: market}
		m.mu.Unlock()
		return fmt.Errorf("%s books: %w", asset, err)
	}
	if up.NegRisk || down.NegRisk {
		market.NegRisk = true
	}
	m.mu.Lock()
	m.assets[asset] = &marketState{market: market, up: up, down: down, synced: now}
	m.mu.Unlock()
	return nil
}

func (m *Markets) Market(asset string) (Market, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.assets[strings.ToUpper(asset)]
	if !ok {
		return Market{}, false
	}
	return st.market, true
}

func (m *Markets) Book(asset string, dir strategy.Direction) (Book, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.assets[strings.ToUpper(asset)]
	if !ok || st.synced.IsZero() {
		return Book{}, false
	}
	if dir == strategy.Up {
		return st.up, true
	}
	return st.down, true
}

func (m *Markets) TimeRemaining(asset string) (float64, error) {
	market, ok := m.Market(asset)
	if !ok || market.End.IsZero() {
		return 0, fmt.Errorf("%s: %w", asset, ErrNoMarket)
	}
	left := market.End.Sub(m.now()).Seconds()
	if left < 0 {
		left = 0
	}
	return left, nil
}

// Snapshot assembles the strategy view of an asset. Missing data leaves
// fields zeroed; callers check Ready.
func (m *Markets) Snapshot(_ context.Context, asset string) (strategy.MarketSnapshot, error) {
	asset = strings.ToUpper(asset)
	m.mu.RLock()
	st, ok := m.assets[asset]
	var cp marketState
	if ok {
		cp = *st
	}
	m.mu.RUnlock()
	if !ok {
		return strategy.MarketSnapshot{}, fmt.Errorf("%s: %w", asset, ErrNoMarket)
	}
	snap := strategy.MarketSnapshot{
		Asset:    asset,
		Strike:   cp.market.Strike,
		UpAsk:    cp.up.BestAsk(),
		UpBid:    cp.up.BestBid(),
		DownAsk:  cp.down.BestAsk(),
		DownBid:  cp.down.BestBid(),
		UpAsks:   cp.up.AskLevels(),
		DownAsks: cp.down.AskLevels(),
	}
	if left := cp.market.End.Sub(m.now()).Seconds(); left > 0 {
		snap.SecondsLeft = left
	}
	if m.spot != nil {
		if px, ok := m.spot.Spot(asset); ok {
			snap.Spot = px
		}
		snap.Volatility = m.spot.Volatility(asset)
	}
	return snap, nil
}
