package exec

import (
	"context"
	"errors"

	"polyedge-bot/internal/strategy"

	"github.com/google/uuid"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

var (
	// ErrNotFilled means the exchange killed the order without a fill. It is
	// a definitive outcome and is never retried.
	ErrNotFilled = errors.New("order not filled")
	ErrRejected  = errors.New("order rejected")
	ErrNoMarket  = errors.New("no active market")
	// ErrNotSubmitted marks a failure before the order reached the exchange,
	// such as a failed fee lookup. Only these are retried: anything after
	// submission may already have matched.
	ErrNotSubmitted = errors.New("order not submitted")
)

type Order struct {
	Asset         string
	Direction     strategy.Direction
	Side          Side
	Size          float64
	AmountUSDC    float64
	LimitPrice    float64
	ClientOrderID string
	Strategy      strategy.Name
}

type Fill struct {
	OrderID  string  `json:"order_id"`
	Filled   bool    `json:"filled"`
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avg_price"`
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order Order) (Fill, error)
}

// Gateway is the exchange surface the trading core depends on.
type Gateway interface {
	OrderPlacer
	Snapshot(ctx context.Context, asset string) (strategy.MarketSnapshot, error)
	TimeRemaining(asset string) (float64, error)
	Balance(ctx context.Context) (float64, error)
	OpenPosition(ctx context.Context, asset string) (*strategy.Position, error)
}

func NewClientOrderID() string {
	return uuid.NewString()
}
