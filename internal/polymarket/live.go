package polymarket

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"polyedge-bot/internal/exec"
	"polyedge-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const orderTypeFOK = "FOK"

type clobAPI interface {
	FeeRateBps(ctx context.Context, tokenID string) (int, error)
	Positions(ctx context.Context, user string) ([]RemotePosition, error)
	CollateralBalance(ctx context.Context, signer *Signer) (string, error)
	PostOrder(ctx context.Context, signer *Signer, body []byte) (OrderResponse, error)
}

// Live routes orders to the CLOB as fill-or-kill orders.
type Live struct {
	api     clobAPI
	signer  *Signer
	markets *Markets
	log     *zap.Logger
}

func NewLive(api clobAPI, signer *Signer, markets *Markets, log *zap.Logger) *Live {
	if log == nil {
		log = zap.NewNop()
	}
	return &Live{api: api, signer: signer, markets: markets, log: log}
}

func (l *Live) Snapshot(ctx context.Context, asset string) (strategy.MarketSnapshot, error) {
	return l.markets.Snapshot(ctx, asset)
}

func (l *Live) TimeRemaining(asset string) (float64, error) {
	return l.markets.TimeRemaining(asset)
}

func (l *Live) PlaceOrder(ctx context.Context, order exec.Order) (exec.Fill, error) {
	market, ok := l.markets.Market(order.Asset)
	if !ok {
		return exec.Fill{}, fmt.Errorf("%s: %w", order.Asset, exec.ErrNoMarket)
	}
	book, ok := l.markets.Book(order.Asset, order.Direction)
	if !ok {
		return exec.Fill{}, fmt.Errorf("%s %s: %w", order.Asset, order.Direction, exec.ErrNoMarket)
	}
	tokenID := market.Token(order.Direction == strategy.Up)
	price, err := limitPrice(order, book)
	if err != nil {
		return exec.Fill{}, err
	}
	size := decimal.NewFromFloat(order.Size)
	if !size.IsPositive() {
		size = decimal.NewFromFloat(order.AmountUSDC).Div(price)
	}
	maker, taker, err := OrderAmounts(order.Side, price, size)
	if err != nil {
		return exec.Fill{}, fmt.Errorf("%s %s: %w: %v", order.Asset, order.Direction, exec.ErrRejected, err)
	}
	fee, err := l.api.FeeRateBps(ctx, tokenID)
	if err != nil {
		return exec.Fill{}, fmt.Errorf("%s %s: %w: %w", order.Asset, order.Direction, exec.ErrNotSubmitted, err)
	}
	signed, err := l.signer.SignOrder(tokenID, order.Side, maker, taker, fee, market.NegRisk)
	if err != nil {
		return exec.Fill{}, fmt.Errorf("sign order: %w", err)
	}
	body, err := l.signer.OrderBody(signed, orderTypeFOK)
	if err != nil {
		return exec.Fill{}, err
	}
	resp, err := l.api.PostOrder(ctx, l.signer, body)
	if err != nil {
		return exec.Fill{}, err
	}
	l.log.Debug("order response",
		zap.String("asset", order.Asset),
		zap.String("side", string(order.Side)),
		zap.String("direction", string(order.Direction)),
		zap.String("status", resp.Status),
		zap.String("error", resp.ErrorMsg),
	)
	if !resp.Filled() {
		return exec.Fill{}, classifyOrderError(order, resp)
	}
	return fillFromResponse(order.Side, resp, maker, taker), nil
}

// limitPrice snaps the order's limit onto the tick grid: buys round up,
// sells round down. Without a limit the touch price is used.
func limitPrice(order exec.Order, book Book) (decimal.Decimal, error) {
	tick := book.Tick()
	raw := order.LimitPrice
	if raw <= 0 {
		if order.Side == exec.Buy {
			raw = book.BestAsk()
		} else {
			raw = book.BestBid()
		}
	}
	if raw <= 0 {
		return decimal.Zero, fmt.Errorf("%s %s: %w: no price", order.Asset, order.Direction, exec.ErrNotFilled)
	}
	steps := decimal.NewFromFloat(raw).Div(tick)
	if order.Side == exec.Buy {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	price := steps.Mul(tick)
	ceiling := decimal.NewFromInt(1).Sub(tick)
	if price.GreaterThan(ceiling) {
		price = ceiling
	}
	if price.LessThan(tick) {
		price = tick
	}
	return price, nil
}

func classifyOrderError(order exec.Order, resp OrderResponse) error {
	msg := strings.ToLower(resp.ErrorMsg)
	if strings.Contains(msg, "fok") || strings.Contains(msg, "not filled") || strings.Contains(msg, "fully filled") {
		return fmt.Errorf("%s %s %s: %w: %s", order.Side, order.Asset, order.Direction, exec.ErrNotFilled, resp.ErrorMsg)
	}
	if resp.ErrorMsg == "" {
		resp.ErrorMsg = "order not accepted"
	}
	return fmt.Errorf("%s %s %s: %w: %s", order.Side, order.Asset, order.Direction, exec.ErrRejected, resp.ErrorMsg)
}

// fillFromResponse prefers the matched amounts reported by the exchange and
// falls back to the submitted ones.
func fillFromResponse(side exec.Side, resp OrderResponse, maker, taker *big.Int) exec.Fill {
	making, errM := decimal.NewFromString(resp.MakingAmount)
	taking, errT := decimal.NewFromString(resp.TakingAmount)
	if errM != nil || errT != nil || !making.IsPositive() || !taking.IsPositive() {
		making, _ = decimal.NewFromString(maker.String())
		taking, _ = decimal.NewFromString(taker.String())
		making = making.Shift(-6)
		taking = taking.Shift(-6)
	}
	shares, collateral := taking, making
	if side == exec.Sell {
		shares, collateral = making, taking
	}
	fill := exec.Fill{OrderID: resp.OrderID, Filled: true, Size: shares.InexactFloat64()}
	if shares.IsPositive() {
		fill.AvgPrice = collateral.Div(shares).InexactFloat64()
	}
	return fill
}

func (l *Live) Balance(ctx context.Context) (float64, error) {
	raw, err := l.api.CollateralBalance(ctx, l.signer)
	if err != nil {
		return 0, err
	}
	bal, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", raw, err)
	}
	return bal.Shift(-6).InexactFloat64(), nil
}

// OpenPosition reconciles the exchange's view of the active market. Holding
// both outcomes is reported as a hedged position.
func (l *Live) OpenPosition(ctx context.Context, asset string) (*strategy.Position, error) {
	market, ok := l.markets.Market(asset)
	if !ok {
		return nil, fmt.Errorf("%s: %w", asset, ErrNoMarket)
	}
	rows, err := l.api.Positions(ctx, l.signer.Funder().Hex())
	if err != nil {
		return nil, err
	}
	return positionFromRows(market, rows), nil
}

func positionFromRows(market Market, rows []RemotePosition) *strategy.Position {
	var up, down *RemotePosition
	for i := range rows {
		row := &rows[i]
		if !row.Size.IsPositive() {
			continue
		}
		switch row.Asset {
		case market.UpToken:
			up = row
		case market.DownToken:
			down = row
		}
	}
	if up == nil && down == nil {
		return nil
	}
	held, heldDir, other := up, strategy.Up, down
	if up == nil || (down != nil && down.Size.GreaterThan(up.Size)) {
		held, heldDir, other = down, strategy.Down, up
	}
	size := held.Size.InexactFloat64()
	price := held.AvgPrice.InexactFloat64()
	pos := &strategy.Position{
		Asset:      market.Asset,
		Direction:  heldDir,
		EntryPrice: price,
		Size:       size,
		Cost:       size * price,
	}
	if other != nil {
		pos.MarkHedged(heldDir.Opposite(), other.AvgPrice.InexactFloat64(), other.Size.InexactFloat64(), strategy.HedgeArbitrage)
	}
	return pos
}
