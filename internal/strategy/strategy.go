package strategy

import (
	"fmt"
	"time"

	"polyedge-bot/internal/config"
)

// Input is everything a strategy sees for one asset on one tick.
type Input struct {
	Now      time.Time
	Snapshot MarketSnapshot
	Eval     Evaluation
	Position *Position
}

// Strategy decisions are pure with respect to the exchange. Evaluate never
// advances lifecycle state because of a signal it returns; it only aligns
// per-asset state with the position it is handed (adopting an untracked
// position, clearing after the book dropped one). Confirm is called only
// after a fill.
type Strategy interface {
	Name() Name
	Evaluate(in Input) Signal
	Confirm(in Input, sig Signal, fill Fill)
	Reset(asset string, now time.Time)
}

type Factory func(cfg config.StrategyConfig) (Strategy, error)

var Registry = map[Name]Factory{
	NameSniper: func(cfg config.StrategyConfig) (Strategy, error) {
		return NewSniper(cfg.Sniper), nil
	},
	NameArbitrage: func(cfg config.StrategyConfig) (Strategy, error) {
		return NewArbitrage(cfg.Arbitrage), nil
	},
	NameEdgeHedge: func(cfg config.StrategyConfig) (Strategy, error) {
		return NewEdgeHedge(cfg.EdgeHedge)
	},
	NameTrend: func(cfg config.StrategyConfig) (Strategy, error) {
		return NewTrend(cfg.Trend), nil
	},
}

// Priority is the fixed order strategies are consulted in each tick.
var Priority = []Name{NameSniper, NameArbitrage, NameEdgeHedge, NameTrend}

// Set holds the enabled strategies. Disabled ones are nil.
type Set struct {
	Sniper    *Sniper
	Arbitrage *Arbitrage
	EdgeHedge *EdgeHedge
	Trend     *Trend
}

func Build(cfg config.StrategyConfig) (*Set, error) {
	enabled := make(map[Name]bool, len(cfg.Enabled))
	for _, raw := range cfg.Enabled {
		name := Name(raw)
		if _, ok := Registry[name]; !ok {
			return nil, fmt.Errorf("unknown strategy %q", raw)
		}
		enabled[name] = true
	}
	set := &Set{}
	for _, name := range Priority {
		if !enabled[name] {
			continue
		}
		s, err := Registry[name](cfg)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", name, err)
		}
		switch v := s.(type) {
		case *Sniper:
			set.Sniper = v
		case *Arbitrage:
			set.Arbitrage = v
		case *EdgeHedge:
			set.EdgeHedge = v
		case *Trend:
			set.Trend = v
		}
	}
	return set, nil
}

// All returns the enabled strategies in priority order.
func (s *Set) All() []Strategy {
	out := make([]Strategy, 0, len(Priority))
	if s.Sniper != nil {
		out = append(out, s.Sniper)
	}
	if s.Arbitrage != nil {
		out = append(out, s.Arbitrage)
	}
	if s.EdgeHedge != nil {
		out = append(out, s.EdgeHedge)
	}
	if s.Trend != nil {
		out = append(out, s.Trend)
	}
	return out
}

func (s *Set) Get(name Name) Strategy {
	for _, st := range s.All() {
		if st.Name() == name {
			return st
		}
	}
	return nil
}

// Reset clears per-asset state on every strategy, e.g. on market rollover.
func (s *Set) Reset(asset string, now time.Time) {
	for _, st := range s.All() {
		st.Reset(asset, now)
	}
}
