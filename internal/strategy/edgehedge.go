package strategy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"polyedge-bot/internal/config"
)

var ErrInvertedThresholds = errors.New("profit hedge threshold must be below stop-loss trigger")

// EdgeHedge enters on fair-value edge and later buys the opposite side
// either to lock in profit or to cap a loss.
type EdgeHedge struct {
	cfg config.EdgeHedgeConfig

	mu     sync.Mutex
	assets map[string]*edgeState
}

type edgeState struct {
	sm         *StateMachine
	lastChange time.Time
}

func NewEdgeHedge(cfg config.EdgeHedgeConfig) (*EdgeHedge, error) {
	if cfg.ProfitHedgeThresholdPct >= cfg.StoplossTriggerPct {
		return nil, fmt.Errorf("%w: %.2f >= %.2f", ErrInvertedThresholds, cfg.ProfitHedgeThresholdPct, cfg.StoplossTriggerPct)
	}
	return &EdgeHedge{cfg: cfg, assets: make(map[string]*edgeState)}, nil
}

func (e *EdgeHedge) Name() Name { return NameEdgeHedge }

func (e *EdgeHedge) state(asset string) *edgeState {
	st, ok := e.assets[asset]
	if !ok {
		st = &edgeState{sm: NewStateMachine()}
		e.assets[asset] = st
	}
	return st
}

// StateOf reports the lifecycle state tracked for an asset.
func (e *EdgeHedge) StateOf(asset string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(asset).sm.State()
}

// Manages reports whether the engine will run hedge logic for the position.
// Sniper and trend positions have their own exit rules.
func (e *EdgeHedge) Manages(pos *Position) bool {
	if pos == nil {
		return false
	}
	return pos.Strategy == NameEdgeHedge || pos.Strategy == ""
}

func (e *EdgeHedge) Evaluate(in Input) Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	asset := in.Snapshot.Asset
	st := e.state(asset)
	pos := in.Position

	if pos == nil {
		if st.sm.State() != StateNoPosition {
			st.sm.Apply(EventClear)
			st.lastChange = in.Now
		}
		return e.entry(in, st)
	}
	if pos.IsHedged || st.sm.State() == StateHedged {
		return Hold(NameEdgeHedge, "position hedged")
	}
	if !e.Manages(pos) {
		return Hold(NameEdgeHedge, fmt.Sprintf("position owned by %s", pos.Strategy))
	}
	if st.sm.State() == StateNoPosition {
		st.sm.SetState(StateEntered)
	}
	return e.hedge(in, pos)
}

func (e *EdgeHedge) entry(in Input, st *edgeState) Signal {
	cooldown := time.Duration(e.cfg.EntryCooldownSec * float64(time.Second))
	if !st.lastChange.IsZero() && in.Now.Sub(st.lastChange) < cooldown {
		return Hold(NameEdgeHedge, "entry cooldown")
	}
	dir := Up
	if in.Eval.Fair.Down > in.Eval.Fair.Up {
		dir = Down
	}
	edge := in.Eval.EdgeFor(dir)
	if edge < e.cfg.MinEdgePct {
		return Hold(NameEdgeHedge, fmt.Sprintf("edge %.2f below %.2f", edge, e.cfg.MinEdgePct))
	}
	ask := in.Snapshot.Ask(dir)
	if ask <= 0 || ask >= 1 {
		return Hold(NameEdgeHedge, "no ask")
	}
	fair := in.Eval.FairFor(dir)
	return Signal{
		Strategy:   NameEdgeHedge,
		Action:     ActionEnter,
		Direction:  dir,
		Confidence: fair,
		Edge:       edge,
		Reason:     fmt.Sprintf("edge %.2f%% on %s (fair %.3f, ask %.3f)", edge, dir, fair, ask),
		AmountUSDC: e.cfg.PositionSizeUSDC,
		Price:      ask,
		Metadata: map[string]any{
			"fair_probability": fair,
			"market_ask":       ask,
		},
	}
}

// hedge checks the profit lock before the stop-loss on every tick.
func (e *EdgeHedge) hedge(in Input, pos *Position) Signal {
	snap := in.Snapshot
	opp := pos.Direction.Opposite()
	bid := snap.Bid(pos.Direction)
	oppAsk := snap.Ask(opp)
	if bid <= 0 || oppAsk <= 0 {
		return Hold(NameEdgeHedge, "no quote")
	}
	pct := pos.PnLPct(bid)

	if pct >= e.cfg.ProfitHedgeThresholdPct {
		if pos.EntryPrice+oppAsk < 1 {
			return e.hedgeSignal(pos, opp, oppAsk, pct, HedgeProfit,
				fmt.Sprintf("profit hedge: pnl %.2f%%, total cost %.3f", pct, pos.EntryPrice+oppAsk))
		}
		if pct > -e.cfg.StoplossTriggerPct {
			return Hold(NameEdgeHedge, fmt.Sprintf("hedge infeasible: total cost %.3f >= 1", pos.EntryPrice+oppAsk))
		}
	}
	if pct <= -e.cfg.StoplossTriggerPct {
		if pos.Size*oppAsk < e.cfg.MinHedgeValueUSDC {
			return Hold(NameEdgeHedge, fmt.Sprintf("stop-loss hedge value %.2f below dust threshold", pos.Size*oppAsk))
		}
		return e.hedgeSignal(pos, opp, oppAsk, pct, HedgeStopLoss,
			fmt.Sprintf("stop-loss hedge: pnl %.2f%%", pct))
	}
	return Hold(NameEdgeHedge, fmt.Sprintf("monitoring: pnl %.2f%%", pct))
}

func (e *EdgeHedge) hedgeSignal(pos *Position, opp Direction, oppAsk, pct float64, typ HedgeType, reason string) Signal {
	expected := pos.Size - pos.Cost - oppAsk*pos.Size
	var expectedPct float64
	if pos.Cost > 0 {
		expectedPct = expected / pos.Cost * 100
	}
	return Signal{
		Strategy:   NameEdgeHedge,
		Action:     ActionAdjust,
		Direction:  opp,
		Confidence: 1,
		Edge:       pct,
		Reason:     reason,
		Size:       pos.Size,
		Price:      oppAsk,
		HedgeType:  typ,
		Metadata: map[string]any{
			"hedge_type":       string(typ),
			"opposite_price":   oppAsk,
			"expected_pnl_pct": expectedPct,
		},
	}
}

func (e *EdgeHedge) Confirm(in Input, sig Signal, _ Fill) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(in.Snapshot.Asset)
	switch sig.Action {
	case ActionEnter:
		st.sm.Apply(EventEnter)
		st.lastChange = in.Now
	case ActionAdjust:
		if st.sm.State() == StateNoPosition {
			st.sm.SetState(StateEntered)
		}
		st.sm.Apply(EventHedge)
	}
}

func (e *EdgeHedge) Reset(asset string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(asset)
	if st.sm.State() != StateNoPosition {
		st.sm.Apply(EventClear)
		st.lastChange = now
	}
}
