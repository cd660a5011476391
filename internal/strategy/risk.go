package strategy

import (
	"errors"
	"fmt"
)

var (
	ErrNoPosition = errors.New("no open position")
	ErrNoQuote    = errors.New("no quote for held side")
)

// MarkToBid returns the unhedged position's P&L in percent of entry,
// valued at the held side's best bid.
func MarkToBid(pos *Position, snap MarketSnapshot) (float64, error) {
	if pos == nil || pos.IsHedged {
		return 0, ErrNoPosition
	}
	bid := snap.Bid(pos.Direction)
	if bid <= 0 {
		return 0, fmt.Errorf("%s %s: %w", pos.Asset, pos.Direction, ErrNoQuote)
	}
	return pos.PnLPct(bid), nil
}

// SafetySignal is the global stop-loss. It fires for any unhedged position
// regardless of which strategy owns it.
func SafetySignal(pos *Position, snap MarketSnapshot, stopLossPct float64) Signal {
	pnl, err := MarkToBid(pos, snap)
	if err != nil {
		return Hold("", err.Error())
	}
	if pnl > -stopLossPct {
		return Hold("", fmt.Sprintf("pnl %.2f%% above stop-loss -%.2f%%", pnl, stopLossPct))
	}
	sig := LockSignal(pos, snap, HedgeSafety, fmt.Sprintf("global stop-loss: pnl %.2f%% <= -%.2f%%", pnl, stopLossPct))
	if sig.Actionable() {
		sig.Metadata["pnl_pct"] = pnl
	}
	return sig
}

// LockSignal buys the opposite side at the held size, freezing the
// position's settled outcome.
func LockSignal(pos *Position, snap MarketSnapshot, typ HedgeType, reason string) Signal {
	if pos == nil || pos.IsHedged {
		return Hold("", "nothing to lock")
	}
	opp := pos.Direction.Opposite()
	ask := snap.Ask(opp)
	if ask <= 0 {
		return Hold(pos.Strategy, fmt.Sprintf("no ask for %s", opp))
	}
	return Signal{
		Strategy:   pos.Strategy,
		Action:     ActionAdjust,
		Direction:  opp,
		Confidence: 1,
		Reason:     reason,
		Size:       pos.Size,
		Price:      ask,
		HedgeType:  typ,
		Metadata: map[string]any{
			"hedge_type":     string(typ),
			"opposite_price": ask,
			"entry_price":    pos.EntryPrice,
		},
	}
}
