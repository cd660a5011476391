package polymarket

import (
	"context"
	"fmt"
	"sync"

	"polyedge-bot/internal/exec"
	"polyedge-bot/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type quoteSource interface {
	Snapshot(ctx context.Context, asset string) (strategy.MarketSnapshot, error)
	TimeRemaining(asset string) (float64, error)
	Market(asset string) (Market, bool)
}

type holding struct {
	size float64
	cost float64
}

// Paper fills orders against the latest snapshot without touching the
// exchange. Holdings are keyed by market slug so a rollover starts flat.
type Paper struct {
	quotes quoteSource
	log    *zap.Logger

	mu       sync.Mutex
	balance  float64
	holdings map[string]map[strategy.Direction]*holding
}

func NewPaper(quotes quoteSource, balance float64, log *zap.Logger) *Paper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Paper{
		quotes:   quotes,
		log:      log,
		balance:  balance,
		holdings: make(map[string]map[strategy.Direction]*holding),
	}
}

func (p *Paper) Snapshot(ctx context.Context, asset string) (strategy.MarketSnapshot, error) {
	return p.quotes.Snapshot(ctx, asset)
}

func (p *Paper) TimeRemaining(asset string) (float64, error) {
	return p.quotes.TimeRemaining(asset)
}

func (p *Paper) Balance(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, order exec.Order) (exec.Fill, error) {
	market, ok := p.quotes.Market(order.Asset)
	if !ok {
		return exec.Fill{}, fmt.Errorf("%s: %w", order.Asset, exec.ErrNoMarket)
	}
	snap, err := p.quotes.Snapshot(ctx, order.Asset)
	if err != nil {
		return exec.Fill{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	book := p.book(market.Slug)
	switch order.Side {
	case exec.Buy:
		ask := snap.Ask(order.Direction)
		if ask <= 0 || (order.LimitPrice > 0 && ask > order.LimitPrice) {
			return exec.Fill{}, fmt.Errorf("buy %s %s at %.4f: %w", order.Asset, order.Direction, ask, exec.ErrNotFilled)
		}
		size := order.Size
		if size <= 0 {
			size = order.AmountUSDC / ask
		}
		cost := size * ask
		if size <= 0 || cost > p.balance {
			return exec.Fill{}, fmt.Errorf("buy %s %s cost %.2f balance %.2f: %w", order.Asset, order.Direction, cost, p.balance, exec.ErrRejected)
		}
		p.balance -= cost
		h := book[order.Direction]
		if h == nil {
			h = &holding{}
			book[order.Direction] = h
		}
		h.size += size
		h.cost += cost
		return exec.Fill{OrderID: "paper-" + uuid.NewString(), Filled: true, Size: size, AvgPrice: ask}, nil
	case exec.Sell:
		bid := snap.Bid(order.Direction)
		h := book[order.Direction]
		if bid <= 0 || h == nil || h.size <= 0 || (order.LimitPrice > 0 && bid < order.LimitPrice) {
			return exec.Fill{}, fmt.Errorf("sell %s %s at %.4f: %w", order.Asset, order.Direction, bid, exec.ErrNotFilled)
		}
		size := order.Size
		if size <= 0 || size > h.size {
			size = h.size
		}
		avg := h.cost / h.size
		h.size -= size
		h.cost -= avg * size
		p.balance += size * bid
		return exec.Fill{OrderID: "paper-" + uuid.NewString(), Filled: true, Size: size, AvgPrice: bid}, nil
	}
	return exec.Fill{}, fmt.Errorf("side %q: %w", order.Side, exec.ErrRejected)
}

func (p *Paper) book(slug string) map[strategy.Direction]*holding {
	book, ok := p.holdings[slug]
	if !ok {
		book = make(map[strategy.Direction]*holding)
		p.holdings[slug] = book
	}
	return book
}

func (p *Paper) OpenPosition(_ context.Context, asset string) (*strategy.Position, error) {
	market, ok := p.quotes.Market(asset)
	if !ok {
		return nil, fmt.Errorf("%s: %w", asset, ErrNoMarket)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	book := p.holdings[market.Slug]
	var rows []RemotePosition
	for dir, h := range book {
		if h.size <= 1e-9 {
			continue
		}
		token := market.Token(dir == strategy.Up)
		rows = append(rows, RemotePosition{
			Asset:    token,
			Size:     decimal.NewFromFloat(h.size),
			AvgPrice: decimal.NewFromFloat(h.cost / h.size),
		})
	}
	return positionFromRows(market, rows), nil
}
