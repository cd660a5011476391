package strategy

import (
	"strings"
	"testing"
	"time"

	"polyedge-bot/internal/config"
)

func testSniperConfig() config.SniperConfig {
	return config.SniperConfig{
		MinutesBefore:      15,
		ProbThreshold:      98,
		AmountUSDC:         10,
		MaxTimes:           3,
		IntervalSeconds:    60,
		HedgeProbThreshold: 90,
	}
}

func sniperInput(now time.Time, secs float64) Input {
	return Input{
		Now:      now,
		Snapshot: MarketSnapshot{Asset: "BTC", SecondsLeft: secs, UpAsk: 0.985, DownAsk: 0.02},
	}
}

func TestSniperWindow(t *testing.T) {
	s := NewSniper(testSniperConfig())
	now := time.Unix(10_000, 0)
	if sig := s.Evaluate(sniperInput(now, 1200)); sig.Actionable() {
		t.Fatalf("expected no entry outside the window")
	}
	if sig := s.Evaluate(sniperInput(now, 20)); sig.Actionable() {
		t.Fatalf("expected no entry inside the safety floor")
	}
	sig := s.Evaluate(sniperInput(now, 600))
	if sig.Action != ActionEnter || sig.Direction != Up || sig.AmountUSDC != 10 {
		t.Fatalf("expected UP entry, got %+v", sig)
	}
	if sig.Metadata["entry_prob"].(float64) < 98 {
		t.Fatalf("expected entry probability metadata, got %v", sig.Metadata)
	}
}

func TestSniperThreshold(t *testing.T) {
	s := NewSniper(testSniperConfig())
	in := sniperInput(time.Unix(10_000, 0), 600)
	in.Snapshot.UpAsk = 0.95
	in.Snapshot.DownAsk = 0.06
	if sig := s.Evaluate(in); sig.Actionable() {
		t.Fatalf("expected no entry below threshold, got %+v", sig)
	}
	in.Snapshot.UpAsk = 0.03
	in.Snapshot.DownAsk = 0.99
	if sig := s.Evaluate(in); sig.Direction != Down {
		t.Fatalf("expected DOWN entry, got %+v", sig)
	}
}

func TestSniperMaxTimes(t *testing.T) {
	s := NewSniper(testSniperConfig())
	t0 := time.Unix(10_000, 0)
	var pos *Position
	for i := 0; i < 4; i++ {
		in := sniperInput(t0.Add(time.Duration(i)*61*time.Second), 800-float64(i)*61)
		in.Position = pos
		sig := s.Evaluate(in)
		if i == 3 {
			if sig.Actionable() {
				t.Fatalf("fourth qualifying tick must not signal, got %+v", sig)
			}
			if !strings.Contains(sig.Reason, "max executions") {
				t.Fatalf("unexpected hold reason %q", sig.Reason)
			}
			return
		}
		if sig.Action != ActionEnter {
			t.Fatalf("tick %d: expected entry, got %+v", i, sig)
		}
		s.Confirm(in, sig, Fill{Size: 10, Price: 0.985})
		if pos == nil {
			pos = &Position{Asset: "BTC", Direction: Up, Strategy: NameSniper, EntryPrice: 0.985, Size: 10, Cost: 9.85, EntryProb: 98.5}
		} else {
			pos.Add(10, 0.985)
		}
	}
}

func TestSniperInterval(t *testing.T) {
	s := NewSniper(testSniperConfig())
	t0 := time.Unix(10_000, 0)
	in := sniperInput(t0, 600)
	sig := s.Evaluate(in)
	s.Confirm(in, sig, Fill{Size: 10, Price: 0.985})
	in = sniperInput(t0.Add(10*time.Second), 590)
	if sig := s.Evaluate(in); sig.Actionable() {
		t.Fatalf("expected interval hold, got %+v", sig)
	}
}

func TestSniperResetsOnRollover(t *testing.T) {
	s := NewSniper(testSniperConfig())
	t0 := time.Unix(10_000, 0)
	for i := 0; i < 3; i++ {
		in := sniperInput(t0.Add(time.Duration(i)*61*time.Second), 800-float64(i)*61)
		s.Confirm(in, Signal{Action: ActionEnter}, Fill{})
	}
	if s.States()["BTC"].Count != 3 {
		t.Fatalf("expected 3 executions, got %+v", s.States()["BTC"])
	}
	if sig := s.Evaluate(sniperInput(t0.Add(time.Hour), 3500)); sig.Actionable() {
		t.Fatalf("fresh market is outside the window")
	}
	if s.States()["BTC"].Count != 0 {
		t.Fatalf("expected counter reset on rollover, got %+v", s.States()["BTC"])
	}
	if sig := s.Evaluate(sniperInput(t0.Add(2*time.Hour), 600)); sig.Action != ActionEnter {
		t.Fatalf("expected entry after reset, got %+v", sig)
	}
}

func TestSniperBlockedByForeignPosition(t *testing.T) {
	s := NewSniper(testSniperConfig())
	in := sniperInput(time.Unix(10_000, 0), 600)
	in.Position = &Position{Asset: "BTC", Direction: Up, Strategy: NameEdgeHedge}
	if sig := s.Evaluate(in); sig.Actionable() {
		t.Fatalf("expected hold with another strategy's position")
	}
}

func TestSniperHedgeSignal(t *testing.T) {
	s := NewSniper(testSniperConfig())
	pos := &Position{Asset: "BTC", Direction: Up, Strategy: NameSniper, EntryPrice: 0.985, Size: 10, EntryProb: 98.5}
	in := Input{Snapshot: MarketSnapshot{Asset: "BTC", UpAsk: 0.86, DownAsk: 0.15}, Position: pos}
	sig := s.HedgeSignal(in)
	if sig.Action != ActionAdjust || sig.HedgeType != HedgeSniper {
		t.Fatalf("expected sniper hedge, got %+v", sig)
	}
	if sig.Direction != Down || sig.Size != 10 {
		t.Fatalf("expected same-size opposite buy, got %+v", sig)
	}

	in.Snapshot.DownAsk = 0.05
	if sig := s.HedgeSignal(in); sig.Actionable() {
		t.Fatalf("probability above trigger must hold")
	}

	pos.EntryProb = 90
	in.Snapshot.DownAsk = 0.15
	if sig := s.HedgeSignal(in); sig.Actionable() {
		t.Fatalf("low-probability entries are not sniper-hedged")
	}
}

func TestSniperRestore(t *testing.T) {
	s := NewSniper(testSniperConfig())
	last := time.Unix(5000, 0)
	s.Restore(map[string]SniperState{"ETH": {Count: 2, LastExecution: last}})
	got := s.States()["ETH"]
	if got.Count != 2 || !got.LastExecution.Equal(last) {
		t.Fatalf("unexpected restored state: %+v", got)
	}
	s.Reset("ETH", time.Now())
	if _, ok := s.States()["ETH"]; ok {
		t.Fatalf("expected state removed on reset")
	}
}
