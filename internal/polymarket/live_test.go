package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"polyedge-bot/internal/exec"
	"polyedge-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeCLOB struct {
	resp      OrderResponse
	bodies    [][]byte
	balance   string
	positions []RemotePosition
	user      string
	feeErr    error
	postErr   error
}

func (f *fakeCLOB) FeeRateBps(context.Context, string) (int, error) { return 0, f.feeErr }

func (f *fakeCLOB) Positions(_ context.Context, user string) ([]RemotePosition, error) {
	f.user = user
	return f.positions, nil
}

func (f *fakeCLOB) CollateralBalance(context.Context, *Signer) (string, error) {
	return f.balance, nil
}

func (f *fakeCLOB) PostOrder(_ context.Context, _ *Signer, body []byte) (OrderResponse, error) {
	f.bodies = append(f.bodies, body)
	if f.postErr != nil {
		return OrderResponse{}, f.postErr
	}
	return f.resp, nil
}

func newTestLive(t *testing.T, api *fakeCLOB) *Live {
	t.Helper()
	now := discoveryNow
	markets := newTestMarkets(&now)
	if err := markets.Refresh(context.Background(), "BTC"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return NewLive(api, testSigner(t), markets, zap.NewNop())
}

func TestLivePlaceOrderBuyFilled(t *testing.T) {
	api := &fakeCLOB{resp: OrderResponse{Success: true, OrderID: "0xabc", MakingAmount: "5.5", TakingAmount: "10"}}
	live := newTestLive(t, api)
	fill, err := live.PlaceOrder(context.Background(), exec.Order{
		Asset:      "BTC",
		Direction:  strategy.Up,
		Side:       exec.Buy,
		Size:       10,
		LimitPrice: 0.543,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !fill.Filled || fill.Size != 10 || fill.AvgPrice != 0.55 || fill.OrderID != "0xabc" {
		t.Fatalf("unexpected fill: %+v", fill)
	}
	var payload orderPayload
	if err := json.Unmarshal(api.bodies[0], &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Order.TokenID != "up-12" || payload.Order.Side != "BUY" || payload.OrderType != "FOK" {
		t.Fatalf("unexpected order: %+v", payload)
	}
	// 0.543 rounds up to 0.55 on a cent tick.
	if payload.Order.MakerAmount != "5500000" || payload.Order.TakerAmount != "10000000" {
		t.Fatalf("unexpected amounts %s %s", payload.Order.MakerAmount, payload.Order.TakerAmount)
	}
}

func TestLivePlaceOrderKilled(t *testing.T) {
	api := &fakeCLOB{resp: OrderResponse{Success: true, ErrorMsg: "order couldn't be fully filled. FOK orders are fully filled or killed."}}
	live := newTestLive(t, api)
	_, err := live.PlaceOrder(context.Background(), exec.Order{
		Asset: "BTC", Direction: strategy.Down, Side: exec.Buy, AmountUSDC: 5,
	})
	if !errors.Is(err, exec.ErrNotFilled) {
		t.Fatalf("expected ErrNotFilled, got %v", err)
	}
	api.resp = OrderResponse{Success: false, ErrorMsg: "not enough balance / allowance"}
	_, err = live.PlaceOrder(context.Background(), exec.Order{
		Asset: "BTC", Direction: strategy.Down, Side: exec.Buy, AmountUSDC: 5,
	})
	if !errors.Is(err, exec.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestLivePlaceOrderNoMarket(t *testing.T) {
	live := newTestLive(t, &fakeCLOB{})
	_, err := live.PlaceOrder(context.Background(), exec.Order{Asset: "ETH", Direction: strategy.Up, Side: exec.Buy, Size: 1})
	if !errors.Is(err, exec.ErrNoMarket) {
		t.Fatalf("expected ErrNoMarket, got %v", err)
	}
}

func TestLimitPriceSnapsToTick(t *testing.T) {
	book := Book{TickSize: "0.01"}
	cases := []struct {
		side  exec.Side
		limit float64
		want  string
	}{
		{exec.Buy, 0.523, "0.53"},
		{exec.Sell, 0.527, "0.52"},
		{exec.Buy, 0.999, "0.99"},
		{exec.Sell, 0.004, "0.01"},
	}
	for _, tc := range cases {
		got, err := limitPrice(exec.Order{Side: tc.side, LimitPrice: tc.limit}, book)
		if err != nil {
			t.Fatalf("limit price: %v", err)
		}
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("%s %v: expected %s, got %s", tc.side, tc.limit, tc.want, got)
		}
	}
	if _, err := limitPrice(exec.Order{Side: exec.Sell}, book); !errors.Is(err, exec.ErrNotFilled) {
		t.Fatalf("expected ErrNotFilled without a price, got %v", err)
	}
}

func TestLiveBalance(t *testing.T) {
	live := newTestLive(t, &fakeCLOB{balance: "12500000"})
	bal, err := live.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 12.5 {
		t.Fatalf("expected 12.5, got %v", bal)
	}
}

func TestLiveOpenPosition(t *testing.T) {
	api := &fakeCLOB{positions: []RemotePosition{
		{Asset: "other", Size: decimal.RequireFromString("50"), AvgPrice: decimal.RequireFromString("0.1")},
		{Asset: "down-12", Size: decimal.RequireFromString("20"), AvgPrice: decimal.RequireFromString("0.4")},
	}}
	live := newTestLive(t, api)
	pos, err := live.OpenPosition(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	if pos == nil || pos.Direction != strategy.Down || pos.Size != 20 || pos.EntryPrice != 0.4 || pos.IsHedged {
		t.Fatalf("unexpected position: %+v", pos)
	}
	if api.user != live.signer.Funder().Hex() {
		t.Fatalf("expected positions for funder, got %s", api.user)
	}

	api.positions = append(api.positions, RemotePosition{Asset: "up-12", Size: decimal.RequireFromString("20"), AvgPrice: decimal.RequireFromString("0.55")})
	pos, err = live.OpenPosition(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	if !pos.IsHedged || pos.Direction != strategy.Up || pos.HedgeDirection != strategy.Down {
		t.Fatalf("expected hedged position, got %+v", pos)
	}
	if diff := pos.ExpectedPnL - (20 - 11 - 8); diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("unexpected expected pnl %v", pos.ExpectedPnL)
	}

	api.positions = nil
	pos, err = live.OpenPosition(context.Background(), "BTC")
	if err != nil || pos != nil {
		t.Fatalf("expected no position, got %+v %v", pos, err)
	}
}

func TestLivePlaceOrderErrorsBeforeSubmitAreRetryable(t *testing.T) {
	api := &fakeCLOB{feeErr: errors.New("fee-rate: http 503")}
	live := newTestLive(t, api)
	_, err := live.PlaceOrder(context.Background(), exec.Order{Asset: "BTC", Direction: strategy.Up, Side: exec.Buy, Size: 10, LimitPrice: 0.5})
	if !errors.Is(err, exec.ErrNotSubmitted) {
		t.Fatalf("expected ErrNotSubmitted, got %v", err)
	}
	if len(api.bodies) != 0 {
		t.Fatalf("order must not be posted when the fee lookup fails")
	}
}

func TestLivePlaceOrderPostTimeoutIsNotRetryable(t *testing.T) {
	api := &fakeCLOB{postErr: context.DeadlineExceeded}
	live := newTestLive(t, api)
	_, err := live.PlaceOrder(context.Background(), exec.Order{Asset: "BTC", Direction: strategy.Up, Side: exec.Buy, Size: 10, LimitPrice: 0.5})
	if err == nil || errors.Is(err, exec.ErrNotSubmitted) {
		t.Fatalf("a failed post may have matched and must not be marked unsubmitted, got %v", err)
	}
	if len(api.bodies) != 1 {
		t.Fatalf("expected one post, got %d", len(api.bodies))
	}
}
