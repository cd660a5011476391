package strategy

import (
	"fmt"
	"math"
	"time"

	"polyedge-bot/internal/config"
)

const (
	TrendDirectional = "directional"
	TrendContrarian  = "contrarian"
	TrendAuto        = "auto"

	trendExitEdgeFloor = -5.0
)

type Trend struct {
	cfg config.TrendConfig
}

func NewTrend(cfg config.TrendConfig) *Trend {
	return &Trend{cfg: cfg}
}

func (t *Trend) Name() Name { return NameTrend }

type trendCandidate struct {
	dir  Direction
	edge float64
	tag  string
}

func (t *Trend) Evaluate(in Input) Signal {
	if pos := in.Position; pos != nil {
		if pos.Strategy == NameTrend && !pos.IsHedged {
			return t.exit(in, pos)
		}
		return Hold(NameTrend, "position open")
	}
	return t.entry(in)
}

func (t *Trend) directional(in Input) (trendCandidate, bool) {
	snap := in.Snapshot
	if snap.Spot > snap.Strike {
		if in.Eval.EdgeUp >= t.cfg.EdgeThresholdPct {
			return trendCandidate{dir: Up, edge: in.Eval.EdgeUp, tag: TagDirectional}, true
		}
		return trendCandidate{}, false
	}
	if in.Eval.EdgeDown >= t.cfg.EdgeThresholdPct {
		return trendCandidate{dir: Down, edge: in.Eval.EdgeDown, tag: TagDirectional}, true
	}
	return trendCandidate{}, false
}

// contrarian fades the move, bounded so it never chases a collapsing edge.
func (t *Trend) contrarian(in Input) (trendCandidate, bool) {
	dir := Up
	if in.Snapshot.Spot > in.Snapshot.Strike {
		dir = Down
	}
	edge := in.Eval.EdgeFor(dir)
	if edge >= t.cfg.ContrarianEntryEdgeMin && edge <= t.cfg.ContrarianEntryEdgeMax {
		return trendCandidate{dir: dir, edge: edge, tag: TagContrarian}, true
	}
	return trendCandidate{}, false
}

func (t *Trend) pick(in Input) (trendCandidate, bool) {
	switch t.cfg.Mode {
	case TrendDirectional:
		return t.directional(in)
	case TrendContrarian:
		return t.contrarian(in)
	}
	d, dok := t.directional(in)
	c, cok := t.contrarian(in)
	switch {
	case dok && cok:
		if math.Abs(c.edge) > math.Abs(d.edge) {
			return c, true
		}
		return d, true
	case dok:
		return d, true
	case cok:
		return c, true
	}
	return trendCandidate{}, false
}

func (t *Trend) entry(in Input) Signal {
	cand, ok := t.pick(in)
	if !ok {
		return Hold(NameTrend, "no trend entry")
	}
	ask := in.Snapshot.Ask(cand.dir)
	if ask <= 0 || ask >= 1 {
		return Hold(NameTrend, "no ask")
	}
	fair := in.Eval.FairFor(cand.dir)
	amount := t.cfg.BetAmountUSDC
	if t.cfg.UseKelly {
		amount = KellyFraction(fair, ask) * t.cfg.MaxPositionUSDC
		if amount <= 0 {
			return Hold(NameTrend, "kelly stake is zero")
		}
	}
	return Signal{
		Strategy:   NameTrend,
		Action:     ActionEnter,
		Direction:  cand.dir,
		Confidence: fair,
		Edge:       cand.edge,
		Tag:        cand.tag,
		Reason:     fmt.Sprintf("%s entry on %s, edge %.2f%%", cand.tag, cand.dir, cand.edge),
		AmountUSDC: amount,
		Price:      ask,
		Metadata: map[string]any{
			"tag":              cand.tag,
			"fair_probability": fair,
		},
	}
}

func (t *Trend) exit(in Input, pos *Position) Signal {
	snap := in.Snapshot
	edge := in.Eval.EdgeFor(pos.Direction)
	var reason string
	switch {
	case edge < t.cfg.ExitEdgeThreshold && edge > trendExitEdgeFloor:
		reason = fmt.Sprintf("edge decayed to %.2f%%", edge)
	case edge <= t.cfg.StoplossEdgePct:
		reason = fmt.Sprintf("edge stop-loss at %.2f%%", edge)
	case snap.SecondsLeft < t.cfg.TimeExitSeconds:
		reason = fmt.Sprintf("time exit with %.0fs left", snap.SecondsLeft)
	case pos.Tag == TagContrarian && snap.Bid(pos.Direction) > 0 &&
		pos.PnLPct(snap.Bid(pos.Direction)) >= t.cfg.ContrarianTakeProfitPct:
		reason = fmt.Sprintf("contrarian take profit at %.2f%%", pos.PnLPct(snap.Bid(pos.Direction)))
	default:
		return Hold(NameTrend, fmt.Sprintf("holding, edge %.2f%%", edge))
	}
	sig := LockSignal(pos, snap, HedgeExit, reason)
	if !sig.Actionable() {
		return Hold(NameTrend, sig.Reason)
	}
	sig.Strategy = NameTrend
	sig.Action = ActionExit
	sig.Edge = edge
	return sig
}

func (t *Trend) Confirm(Input, Signal, Fill) {}

func (t *Trend) Reset(string, time.Time) {}
