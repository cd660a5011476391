package strategy

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"polyedge-bot/internal/config"
)

func testEdgeConfig() config.EdgeHedgeConfig {
	return config.EdgeHedgeConfig{
		MinEdgePct:              10,
		ProfitHedgeThresholdPct: 7,
		StoplossTriggerPct:      15,
		EntryCooldownSec:        30,
		PositionSizeUSDC:        10,
		MinHedgeValueUSDC:       0.5,
	}
}

func newTestEdgeHedge(t *testing.T) *EdgeHedge {
	t.Helper()
	e, err := NewEdgeHedge(testEdgeConfig())
	if err != nil {
		t.Fatalf("new edge hedge: %v", err)
	}
	return e
}

func upPosition(entry, size float64) *Position {
	return &Position{Asset: "BTC", Direction: Up, EntryPrice: entry, Size: size, Cost: entry * size, Strategy: NameEdgeHedge}
}

func TestNewEdgeHedgeRejectsInvertedThresholds(t *testing.T) {
	cfg := testEdgeConfig()
	cfg.ProfitHedgeThresholdPct = 15
	if _, err := NewEdgeHedge(cfg); !errors.Is(err, ErrInvertedThresholds) {
		t.Fatalf("expected ErrInvertedThresholds, got %v", err)
	}
}

func TestEdgeHedgeEntryPicksHigherFairSide(t *testing.T) {
	e := newTestEdgeHedge(t)
	in := Input{
		Now:      time.Unix(1000, 0),
		Snapshot: MarketSnapshot{Asset: "BTC", UpAsk: 0.20, DownAsk: 0.78},
		Eval:     Evaluation{Fair: FairResult{Up: 0.3, Down: 0.7}, EdgeUp: 10, EdgeDown: -8},
	}
	if sig := e.Evaluate(in); sig.Actionable() {
		t.Fatalf("lower-fair side must not be entered even with edge, got %+v", sig)
	}
	in.Eval = Evaluation{Fair: FairResult{Up: 0.7, Down: 0.3}, EdgeUp: 12, EdgeDown: -5}
	in.Snapshot.UpAsk = 0.58
	sig := e.Evaluate(in)
	if sig.Action != ActionEnter || sig.Direction != Up {
		t.Fatalf("expected UP entry, got %+v", sig)
	}
	if sig.AmountUSDC != 10 {
		t.Fatalf("expected position size 10, got %v", sig.AmountUSDC)
	}
}

func TestEdgeHedgeEntryCooldown(t *testing.T) {
	e := newTestEdgeHedge(t)
	t0 := time.Unix(1000, 0)
	in := Input{
		Now:      t0,
		Snapshot: MarketSnapshot{Asset: "BTC", UpAsk: 0.58, DownAsk: 0.44},
		Eval:     Evaluation{Fair: FairResult{Up: 0.7, Down: 0.3}, EdgeUp: 12},
	}
	sig := e.Evaluate(in)
	e.Confirm(in, sig, Fill{Size: 17, Price: 0.58})
	if e.StateOf("BTC") != StateEntered {
		t.Fatalf("expected ENTERED after confirmed fill")
	}

	in.Now = t0.Add(10 * time.Second)
	if sig := e.Evaluate(in); sig.Actionable() {
		t.Fatalf("expected cooldown hold after clear, got %+v", sig)
	}
	in.Now = t0.Add(45 * time.Second)
	if sig := e.Evaluate(in); sig.Action != ActionEnter {
		t.Fatalf("expected re-entry after cooldown, got %+v", sig)
	}
}

func TestEdgeHedgeProfitHedge(t *testing.T) {
	e := newTestEdgeHedge(t)
	in := Input{
		Snapshot: MarketSnapshot{Asset: "BTC", UpBid: 0.56, DownAsk: 0.40},
		Position: upPosition(0.5, 20),
	}
	sig := e.Evaluate(in)
	if sig.Action != ActionAdjust || sig.HedgeType != HedgeProfit {
		t.Fatalf("expected profit hedge, got %+v", sig)
	}
	if sig.Direction != Down || sig.Size != 20 || sig.Price != 0.40 {
		t.Fatalf("unexpected hedge order: %+v", sig)
	}
	if sig.Metadata["hedge_type"] != "PROFIT" {
		t.Fatalf("expected hedge_type metadata, got %v", sig.Metadata)
	}
}

func TestEdgeHedgeProfitHedgeRefusedWhenCostly(t *testing.T) {
	e := newTestEdgeHedge(t)
	in := Input{
		Snapshot: MarketSnapshot{Asset: "BTC", UpBid: 0.56, DownAsk: 0.55},
		Position: upPosition(0.5, 20),
	}
	if sig := e.Evaluate(in); sig.Actionable() {
		t.Fatalf("hedge with total cost >= 1 must be refused, got %+v", sig)
	}
}

func TestEdgeHedgeStopLossIgnoresCost(t *testing.T) {
	e := newTestEdgeHedge(t)
	in := Input{
		Snapshot: MarketSnapshot{Asset: "BTC", UpBid: 0.40, DownAsk: 0.62},
		Position: upPosition(0.5, 20),
	}
	sig := e.Evaluate(in)
	if sig.Action != ActionAdjust || sig.HedgeType != HedgeStopLoss {
		t.Fatalf("expected stop-loss hedge, got %+v", sig)
	}
}

func TestEdgeHedgeStopLossDustGuard(t *testing.T) {
	e := newTestEdgeHedge(t)
	in := Input{
		Snapshot: MarketSnapshot{Asset: "BTC", UpBid: 0.40, DownAsk: 0.62},
		Position: upPosition(0.5, 0.5),
	}
	if sig := e.Evaluate(in); sig.Actionable() {
		t.Fatalf("dust hedge should be skipped, got %+v", sig)
	}
}

func TestEdgeHedgeHedgedIsIdempotent(t *testing.T) {
	e := newTestEdgeHedge(t)
	pos := upPosition(0.5, 20)
	pos.MarkHedged(Down, 0.40, 20, HedgeProfit)
	in := Input{
		Snapshot: MarketSnapshot{Asset: "BTC", UpBid: 0.30, UpAsk: 0.32, DownAsk: 0.40, DownBid: 0.38},
		Eval:     Evaluation{Fair: FairResult{Up: 0.9, Down: 0.1}, EdgeUp: 58},
		Position: pos,
	}
	first := e.Evaluate(in)
	second := e.Evaluate(in)
	if first.Actionable() || second.Actionable() {
		t.Fatalf("hedged position must produce no signal: %+v / %+v", first, second)
	}
	if first.Reason != second.Reason {
		t.Fatalf("expected identical results, got %q and %q", first.Reason, second.Reason)
	}
}

func TestEdgeHedgeStateAdvancesOnlyOnConfirm(t *testing.T) {
	e := newTestEdgeHedge(t)
	in := Input{
		Snapshot: MarketSnapshot{Asset: "BTC", UpBid: 0.56, DownAsk: 0.40},
		Position: upPosition(0.5, 20),
	}
	first := e.Evaluate(in)
	second := e.Evaluate(in)
	if !first.Actionable() || !second.Actionable() {
		t.Fatalf("unconfirmed hedge must be retried")
	}
	e.Confirm(in, second, Fill{Size: 20, Price: 0.40})
	if e.StateOf("BTC") != StateHedged {
		t.Fatalf("expected HEDGED after confirm, got %s", e.StateOf("BTC"))
	}
	if sig := e.Evaluate(in); sig.Actionable() {
		t.Fatalf("no further signal after confirmed hedge, got %+v", sig)
	}
}

func TestEdgeHedgeEvaluateOnlyMirrorsBook(t *testing.T) {
	e := newTestEdgeHedge(t)
	in := Input{
		Now:      time.Unix(1000, 0),
		Snapshot: MarketSnapshot{Asset: "BTC", UpAsk: 0.58, DownAsk: 0.44},
		Eval:     Evaluation{Fair: FairResult{Up: 0.7, Down: 0.3}, EdgeUp: 12},
	}
	if sig := e.Evaluate(in); sig.Action != ActionEnter {
		t.Fatalf("expected entry signal, got %+v", sig)
	}
	if e.StateOf("BTC") != StateNoPosition {
		t.Fatalf("unconfirmed entry must not advance, got %s", e.StateOf("BTC"))
	}

	in.Snapshot = MarketSnapshot{Asset: "BTC", UpBid: 0.56, DownAsk: 0.40}
	in.Position = upPosition(0.5, 20)
	if sig := e.Evaluate(in); sig.Action != ActionAdjust {
		t.Fatalf("expected hedge signal for adopted position, got %+v", sig)
	}
	if e.StateOf("BTC") != StateEntered {
		t.Fatalf("book position must be adopted as ENTERED, got %s", e.StateOf("BTC"))
	}

	in.Position = nil
	e.Evaluate(in)
	if e.StateOf("BTC") != StateNoPosition {
		t.Fatalf("dropped position must clear, got %s", e.StateOf("BTC"))
	}
}

func TestEdgeHedgeLeavesOtherOwnersAlone(t *testing.T) {
	e := newTestEdgeHedge(t)
	for _, owner := range []Name{NameSniper, NameTrend} {
		pos := upPosition(0.5, 20)
		pos.Strategy = owner
		in := Input{Snapshot: MarketSnapshot{Asset: "BTC", UpBid: 0.56, DownAsk: 0.40}, Position: pos}
		if sig := e.Evaluate(in); sig.Actionable() {
			t.Fatalf("%s position must not be hedged by edge hedge", owner)
		}
	}
	pos := upPosition(0.5, 20)
	pos.Strategy = ""
	in := Input{Snapshot: MarketSnapshot{Asset: "BTC", UpBid: 0.56, DownAsk: 0.40}, Position: pos}
	if sig := e.Evaluate(in); sig.Action != ActionAdjust {
		t.Fatalf("reconciled positions are adopted, got %+v", sig)
	}
}

func TestEdgeHedgeHedgesIffCombinedCostBelowOne(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		e := newTestEdgeHedge(t)
		entry := 0.05 + rng.Float64()*0.85
		opp := 0.01 + rng.Float64()*0.98
		in := Input{
			Snapshot: MarketSnapshot{Asset: "BTC", UpBid: entry * 1.10, DownAsk: opp},
			Position: upPosition(entry, 20),
		}
		sig := e.Evaluate(in)
		want := entry+opp < 1.0
		if sig.Actionable() != want {
			t.Fatalf("entry %.4f opposite %.4f: hedged=%v want %v", entry, opp, sig.Actionable(), want)
		}
	}
}
