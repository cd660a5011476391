package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"polyedge-bot/internal/config"
)

const minFillRatio = 0.99

type ArbitrageOpportunity struct {
	VWAPYes      float64 `json:"vwap_yes"`
	VWAPNo       float64 `json:"vwap_no"`
	TotalCost    float64 `json:"total_cost"`
	Spread       float64 `json:"spread"`
	ProfitRate   float64 `json:"profit_rate"`
	MaxSize      float64 `json:"max_size"`
	MaxProfit    float64 `json:"max_profit"`
	YesLiquidity float64 `json:"yes_liquidity"`
	NoLiquidity  float64 `json:"no_liquidity"`
	Profitable   bool    `json:"profitable"`
	Reason       string  `json:"reason"`
}

// ArbitrageParams sizes both legs of an opportunity for submission.
type ArbitrageParams struct {
	Opportunity ArbitrageOpportunity
	Size        float64
	YesLimit    float64
	NoLimit     float64
}

type ArbitrageFinder struct {
	cfg config.ArbitrageConfig
}

func NewArbitrageFinder(cfg config.ArbitrageConfig) *ArbitrageFinder {
	return &ArbitrageFinder{cfg: cfg}
}

// ParseLevels drops empty levels and sorts the rest by ascending price.
func ParseLevels(levels []Level) []Level {
	out := make([]Level, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Price > 0 && lvl.Size > 0 {
			out = append(out, lvl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// VWAP walks ascending depth until size is filled or the book runs out.
// It returns the average price and the size actually filled.
func VWAP(levels []Level, size float64) (float64, float64) {
	if size <= 0 {
		return 0, 0
	}
	remaining := size
	var cost, filled float64
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := math.Min(remaining, lvl.Size)
		cost += take * lvl.Price
		filled += take
		remaining -= take
	}
	if filled == 0 {
		return 0, 0
	}
	return cost / filled, filled
}

func TotalLiquidity(levels []Level) float64 {
	var total float64
	for _, lvl := range levels {
		total += lvl.Size
	}
	return total
}

func (f *ArbitrageFinder) Analyze(yesAsks, noAsks []Level) ArbitrageOpportunity {
	yes := ParseLevels(yesAsks)
	no := ParseLevels(noAsks)
	if len(yes) == 0 || len(no) == 0 {
		return ArbitrageOpportunity{Reason: "no orderbook"}
	}
	yesLiq := TotalLiquidity(yes)
	noLiq := TotalLiquidity(no)
	maxPossible := math.Min(yesLiq, noLiq)
	if f.cfg.MaxSearchSize > 0 {
		maxPossible = math.Min(maxPossible, f.cfg.MaxSearchSize)
	}
	if maxPossible < f.cfg.MinSize {
		return ArbitrageOpportunity{
			YesLiquidity: yesLiq,
			NoLiquidity:  noLiq,
			Reason:       fmt.Sprintf("insufficient liquidity: %.2f < %.2f", maxPossible, f.cfg.MinSize),
		}
	}

	step := f.cfg.SizeStep
	if step <= 0 {
		step = 1
	}
	var best ArbitrageOpportunity
	found := false
	stop := ""
	for i := 0; ; i++ {
		size := f.cfg.MinSize + float64(i)*step
		if size > maxPossible {
			break
		}
		vy, fy := VWAP(yes, size)
		vn, fn := VWAP(no, size)
		if fy < size*minFillRatio || fn < size*minFillRatio {
			stop = "depth exhausted"
			break
		}
		total := vy + vn
		spread := 1 - total
		rate := spread / total * 100
		if rate < f.cfg.MinProfitRate {
			stop = fmt.Sprintf("profit rate %.2f%% below minimum %.2f%%", rate, f.cfg.MinProfitRate)
			break
		}
		if f.cfg.MaxProfitRate > 0 && rate > f.cfg.MaxProfitRate {
			stop = fmt.Sprintf("profit rate %.2f%% above maximum %.2f%%, ignoring as anomaly", rate, f.cfg.MaxProfitRate)
			break
		}
		filled := math.Min(fy, fn)
		profit := filled * spread
		if !found || profit > best.MaxProfit {
			found = true
			best = ArbitrageOpportunity{
				VWAPYes:    vy,
				VWAPNo:     vn,
				TotalCost:  total,
				Spread:     spread,
				ProfitRate: rate,
				MaxSize:    filled,
				MaxProfit:  profit,
			}
		}
	}
	if found && best.TotalCost < 1 {
		best.YesLiquidity = yesLiq
		best.NoLiquidity = noLiq
		best.Profitable = true
		best.Reason = fmt.Sprintf("profit %.2f%% at size %.2f", best.ProfitRate, best.MaxSize)
		return best
	}

	vy, _ := VWAP(yes, f.cfg.MinSize)
	vn, _ := VWAP(no, f.cfg.MinSize)
	total := vy + vn
	out := ArbitrageOpportunity{
		VWAPYes:      vy,
		VWAPNo:       vn,
		TotalCost:    total,
		Spread:       1 - total,
		YesLiquidity: yesLiq,
		NoLiquidity:  noLiq,
		Reason:       stop,
	}
	if total > 0 {
		out.ProfitRate = (1 - total) / total * 100
	}
	if out.Reason == "" {
		out.Reason = "no profitable size"
	}
	return out
}

// QuickCheck pre-filters on top of book before the depth walk.
func (f *ArbitrageFinder) QuickCheck(bestYes, bestNo float64) bool {
	if bestYes <= 0 || bestNo <= 0 {
		return false
	}
	total := bestYes + bestNo
	if total >= 1 {
		return false
	}
	rate := (1 - total) / total * 100
	return rate >= f.cfg.MinProfitRate+f.cfg.SlippageTolerance*100
}

func (f *ArbitrageFinder) OrderParams(opp ArbitrageOpportunity, amountUSDC float64) ArbitrageParams {
	if !opp.Profitable || opp.TotalCost <= 0 || amountUSDC <= 0 {
		return ArbitrageParams{Opportunity: opp}
	}
	size := math.Min(opp.MaxSize, amountUSDC/opp.TotalCost)
	return ArbitrageParams{
		Opportunity: opp,
		Size:        size,
		YesLimit:    opp.VWAPYes * (1 + f.cfg.SlippageTolerance),
		NoLimit:     opp.VWAPNo * (1 + f.cfg.SlippageTolerance),
	}
}

// Arbitrage buys both outcomes when their combined VWAP is below the $1 payout.
type Arbitrage struct {
	finder *ArbitrageFinder
	cfg    config.ArbitrageConfig
}

func NewArbitrage(cfg config.ArbitrageConfig) *Arbitrage {
	return &Arbitrage{finder: NewArbitrageFinder(cfg), cfg: cfg}
}

func (a *Arbitrage) Name() Name { return NameArbitrage }

func (a *Arbitrage) Finder() *ArbitrageFinder { return a.finder }

func (a *Arbitrage) Evaluate(in Input) Signal {
	if in.Position != nil {
		return Hold(NameArbitrage, "position open")
	}
	snap := in.Snapshot
	if !a.finder.QuickCheck(snap.UpAsk, snap.DownAsk) {
		return Hold(NameArbitrage, "top of book not profitable")
	}
	opp := a.finder.Analyze(snap.UpAsks, snap.DownAsks)
	if !opp.Profitable {
		return Hold(NameArbitrage, opp.Reason)
	}
	params := a.finder.OrderParams(opp, a.cfg.AmountUSDC)
	if params.Size < a.cfg.MinSize {
		return Hold(NameArbitrage, fmt.Sprintf("order size %.2f below minimum %.2f", params.Size, a.cfg.MinSize))
	}
	return Signal{
		Strategy:   NameArbitrage,
		Action:     ActionEnter,
		Confidence: 1,
		Edge:       opp.ProfitRate,
		Reason:     opp.Reason,
		Size:       params.Size,
		AmountUSDC: params.Size * opp.TotalCost,
		HedgeType:  HedgeArbitrage,
		Arbitrage:  &params,
		Metadata: map[string]any{
			"vwap_yes":    opp.VWAPYes,
			"vwap_no":     opp.VWAPNo,
			"total_cost":  opp.TotalCost,
			"profit_rate": opp.ProfitRate,
		},
	}
}

func (a *Arbitrage) Confirm(Input, Signal, Fill) {}

func (a *Arbitrage) Reset(string, time.Time) {}
