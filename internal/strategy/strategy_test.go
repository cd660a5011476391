package strategy

import (
	"errors"
	"testing"
	"time"

	"polyedge-bot/internal/config"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Enabled:           []string{"expiry_sniper", "arbitrage", "edge_hedge", "trend"},
		GlobalStopLossPct: 20,
		EdgeHedge:         testEdgeConfig(),
		Arbitrage:         testArbConfig(),
		Sniper:            testSniperConfig(),
		Trend:             testTrendConfig(TrendAuto),
	}
}

func TestBuildPriorityOrder(t *testing.T) {
	set, err := Build(testStrategyConfig())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	all := set.All()
	if len(all) != len(Priority) {
		t.Fatalf("expected %d strategies, got %d", len(Priority), len(all))
	}
	for i, s := range all {
		if s.Name() != Priority[i] {
			t.Fatalf("position %d: expected %s, got %s", i, Priority[i], s.Name())
		}
	}
	if set.Get(NameTrend) != set.Trend {
		t.Fatalf("expected lookup by name")
	}
}

func TestBuildSubset(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.Enabled = []string{"trend"}
	set, err := Build(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if set.Sniper != nil || set.Arbitrage != nil || set.EdgeHedge != nil || set.Trend == nil {
		t.Fatalf("unexpected set: %+v", set)
	}
}

func TestBuildRejectsUnknownStrategy(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.Enabled = []string{"martingale"}
	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected unknown strategy error")
	}
}

func TestBuildPropagatesConstructorError(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.EdgeHedge.ProfitHedgeThresholdPct = 20
	if _, err := Build(cfg); !errors.Is(err, ErrInvertedThresholds) {
		t.Fatalf("expected ErrInvertedThresholds, got %v", err)
	}
}

func TestSetReset(t *testing.T) {
	set, err := Build(testStrategyConfig())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	now := time.Unix(1000, 0)
	set.Sniper.Confirm(Input{Now: now, Snapshot: MarketSnapshot{Asset: "BTC"}}, Signal{Action: ActionEnter}, Fill{})
	set.EdgeHedge.Confirm(Input{Now: now, Snapshot: MarketSnapshot{Asset: "BTC"}}, Signal{Action: ActionEnter}, Fill{})
	set.Reset("BTC", now)
	if set.Sniper.States()["BTC"].Count != 0 {
		t.Fatalf("expected sniper reset")
	}
	if set.EdgeHedge.StateOf("BTC") != StateNoPosition {
		t.Fatalf("expected edge hedge reset")
	}
}

func TestPositionAccounting(t *testing.T) {
	pos := &Position{Direction: Up, EntryPrice: 0.5, Size: 10, Cost: 5}
	pos.Add(10, 0.6)
	if pos.Size != 20 || pos.Cost != 11 {
		t.Fatalf("unexpected accumulation: %+v", pos)
	}
	if diff := pos.EntryPrice - 0.55; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected average entry 0.55, got %v", pos.EntryPrice)
	}
	pos.MarkHedged(Down, 0.4, 20, HedgeProfit)
	if !pos.IsHedged || pos.HedgeType != HedgeProfit {
		t.Fatalf("expected hedged position: %+v", pos)
	}
	if diff := pos.ExpectedPnL - 1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected settled pnl 1, got %v", pos.ExpectedPnL)
	}
}
