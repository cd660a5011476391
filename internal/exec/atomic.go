package exec

import (
	"context"
	"fmt"

	"polyedge-bot/internal/strategy"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ArbitrageOrder is one YES+NO pair. YES is the UP token, NO the DOWN token.
type ArbitrageOrder struct {
	Asset       string
	Size        float64
	YesMaxPrice float64
	NoMaxPrice  float64
	YesBid      float64
	NoBid       float64
}

type AtomicResult struct {
	Success   bool
	YesFilled bool
	NoFilled  bool
	PanicMode bool
	Message   string
	Yes       Fill
	No        Fill
	Unwind    *Order
	UnwindErr error
}

// ExecuteArbitrage submits both legs concurrently. Each leg's outcome is
// captured on its own so a failure on one side never hides the other. If
// exactly one leg fills it is sold straight back below the bid.
func (e *Executor) ExecuteArbitrage(ctx context.Context, order ArbitrageOrder) AtomicResult {
	yesOrder := Order{
		Asset:         order.Asset,
		Direction:     strategy.Up,
		Side:          Buy,
		Size:          order.Size,
		LimitPrice:    order.YesMaxPrice,
		ClientOrderID: NewClientOrderID(),
		Strategy:      strategy.NameArbitrage,
	}
	noOrder := yesOrder
	noOrder.Direction = strategy.Down
	noOrder.LimitPrice = order.NoMaxPrice
	noOrder.ClientOrderID = NewClientOrderID()

	var (
		yesFill, noFill Fill
		yesErr, noErr   error
		g               errgroup.Group
	)
	g.Go(func() error {
		yesFill, yesErr = e.PlaceOrder(ctx, yesOrder)
		return nil
	})
	g.Go(func() error {
		noFill, noErr = e.PlaceOrder(ctx, noOrder)
		return nil
	})
	_ = g.Wait()

	res := AtomicResult{
		YesFilled: yesErr == nil && yesFill.Filled,
		NoFilled:  noErr == nil && noFill.Filled,
		Yes:       yesFill,
		No:        noFill,
	}
	switch {
	case res.YesFilled && res.NoFilled:
		res.Success = true
		res.Message = fmt.Sprintf("both legs filled: yes %.2f@%.4f no %.2f@%.4f",
			yesFill.Size, yesFill.AvgPrice, noFill.Size, noFill.AvgPrice)
	case res.YesFilled:
		res.PanicMode = true
		e.log.Warn("arbitrage leg failed, unwinding", zap.String("asset", order.Asset),
			zap.String("failed_leg", "no"), zap.Error(noErr))
		res.Unwind, res.UnwindErr = e.unwind(ctx, order.Asset, strategy.Up, yesFill, order.YesBid)
		res.Message = fmt.Sprintf("panic: no leg failed (%v), yes leg unwound", noErr)
	case res.NoFilled:
		res.PanicMode = true
		e.log.Warn("arbitrage leg failed, unwinding", zap.String("asset", order.Asset),
			zap.String("failed_leg", "yes"), zap.Error(yesErr))
		res.Unwind, res.UnwindErr = e.unwind(ctx, order.Asset, strategy.Down, noFill, order.NoBid)
		res.Message = fmt.Sprintf("panic: yes leg failed (%v), no leg unwound", yesErr)
	default:
		res.Message = fmt.Sprintf("both legs failed: yes=%v no=%v", yesErr, noErr)
	}
	if res.UnwindErr != nil {
		e.log.Error("panic unwind failed", zap.String("asset", order.Asset), zap.Error(res.UnwindErr))
		res.Message += fmt.Sprintf("; unwind failed: %v", res.UnwindErr)
	}
	return res
}

func (e *Executor) unwind(ctx context.Context, asset string, dir strategy.Direction, fill Fill, bid float64) (*Order, error) {
	ref := bid
	if ref <= 0 {
		ref = fill.AvgPrice
	}
	sell := Order{
		Asset:         asset,
		Direction:     dir,
		Side:          Sell,
		Size:          fill.Size,
		LimitPrice:    ref * (1 - e.panicDiscount),
		ClientOrderID: NewClientOrderID(),
		Strategy:      strategy.NameArbitrage,
	}
	_, err := e.PlaceOrder(ctx, sell)
	return &sell, err
}
