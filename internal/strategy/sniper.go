package strategy

import (
	"fmt"
	"sync"
	"time"

	"polyedge-bot/internal/config"
)

const (
	sniperMinSecondsLeft   = 30
	sniperHedgeMinEntryPct = 97
)

// SniperState counts executions inside one expiry window.
type SniperState struct {
	Count         int       `json:"count" msgpack:"count"`
	LastExecution time.Time `json:"last_execution" msgpack:"last_execution"`
}

// Sniper buys near-certain outcomes in the closing minutes of a market.
type Sniper struct {
	cfg config.SniperConfig

	mu     sync.Mutex
	states map[string]*SniperState
}

func NewSniper(cfg config.SniperConfig) *Sniper {
	return &Sniper{cfg: cfg, states: make(map[string]*SniperState)}
}

func (s *Sniper) Name() Name { return NameSniper }

func (s *Sniper) state(asset string) *SniperState {
	st, ok := s.states[asset]
	if !ok {
		st = &SniperState{}
		s.states[asset] = st
	}
	return st
}

func (s *Sniper) window() float64 {
	return s.cfg.MinutesBefore * 60
}

func (s *Sniper) Evaluate(in Input) Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := in.Snapshot
	st := s.state(snap.Asset)
	window := s.window()
	secs := snap.SecondsLeft

	if secs > 2*window && st.Count > 0 {
		*st = SniperState{}
	}
	if secs > window {
		return Hold(NameSniper, "outside entry window")
	}
	if secs <= sniperMinSecondsLeft {
		return Hold(NameSniper, "too close to expiry")
	}
	if s.cfg.MaxTimes > 0 && st.Count >= s.cfg.MaxTimes {
		return Hold(NameSniper, fmt.Sprintf("max executions %d reached", s.cfg.MaxTimes))
	}
	interval := time.Duration(s.cfg.IntervalSeconds * float64(time.Second))
	if !st.LastExecution.IsZero() && in.Now.Sub(st.LastExecution) < interval {
		return Hold(NameSniper, "execution interval")
	}
	for _, dir := range []Direction{Up, Down} {
		ask := snap.Ask(dir)
		if ask <= 0 || ask >= 1 {
			continue
		}
		prob := ask * 100
		if prob < s.cfg.ProbThreshold {
			continue
		}
		if pos := in.Position; pos != nil {
			if pos.IsHedged || pos.Strategy != NameSniper || pos.Direction != dir {
				return Hold(NameSniper, "position open")
			}
		}
		return Signal{
			Strategy:   NameSniper,
			Action:     ActionEnter,
			Direction:  dir,
			Confidence: ask,
			Edge:       in.Eval.EdgeFor(dir),
			Reason:     fmt.Sprintf("%s at %.1f%% with %.0fs left", dir, prob, secs),
			AmountUSDC: s.cfg.AmountUSDC,
			Price:      ask,
			Metadata: map[string]any{
				"entry_prob": prob,
				"count":      st.Count,
			},
		}
	}
	return Hold(NameSniper, "no side above threshold")
}

// HedgeSignal protects a sniper position whose implied probability has
// fallen below the hedge trigger. The held side's probability is read off
// the opposite ask.
func (s *Sniper) HedgeSignal(in Input) Signal {
	pos := in.Position
	if pos == nil || pos.IsHedged || pos.Strategy != NameSniper {
		return Hold(NameSniper, "no sniper position")
	}
	if pos.EntryProb < sniperHedgeMinEntryPct {
		return Hold(NameSniper, "entry probability below hedge floor")
	}
	opp := pos.Direction.Opposite()
	oppAsk := in.Snapshot.Ask(opp)
	if oppAsk <= 0 {
		return Hold(NameSniper, "no opposite ask")
	}
	current := (1 - oppAsk) * 100
	if current >= s.cfg.HedgeProbThreshold {
		return Hold(NameSniper, fmt.Sprintf("probability %.1f%% holding", current))
	}
	sig := LockSignal(pos, in.Snapshot, HedgeSniper,
		fmt.Sprintf("sniper hedge: probability %.1f%% below %.1f%%", current, s.cfg.HedgeProbThreshold))
	sig.Strategy = NameSniper
	return sig
}

func (s *Sniper) Confirm(in Input, sig Signal, fill Fill) {
	if sig.Action != ActionEnter {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(in.Snapshot.Asset)
	st.Count++
	st.LastExecution = in.Now
	if !fill.At.IsZero() {
		st.LastExecution = fill.At
	}
}

func (s *Sniper) Reset(asset string, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, asset)
}

// States copies per-asset counters for persistence.
func (s *Sniper) States() map[string]SniperState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SniperState, len(s.states))
	for asset, st := range s.states {
		out[asset] = *st
	}
	return out
}

func (s *Sniper) Restore(states map[string]SniperState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for asset, st := range states {
		copied := st
		s.states[asset] = &copied
	}
}
