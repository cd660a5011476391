package strategy

import "math"

const (
	secondsPerYear    = 8760 * 3600
	DefaultVolatility = 0.60
	minProbability    = 0.01
	maxProbability    = 0.99
)

type FairResult struct {
	Up   float64
	Down float64
	D2   float64
}

// FairValue prices the UP outcome as a cash-or-nothing binary call with a
// zero risk-free rate.
func FairValue(spot, strike, secondsLeft, sigma float64) FairResult {
	if spot <= 0 || strike <= 0 {
		return FairResult{Up: 0.5, Down: 0.5}
	}
	if secondsLeft <= 0 {
		if spot >= strike {
			return FairResult{Up: 1, Down: 0}
		}
		return FairResult{Up: 0, Down: 1}
	}
	if sigma <= 0 {
		sigma = DefaultVolatility
	}
	t := secondsLeft / secondsPerYear
	d2 := (math.Log(spot/strike) - sigma*sigma/2*t) / (sigma * math.Sqrt(t))
	up := clampProb(normCDF(d2))
	return FairResult{Up: up, Down: clampProb(1 - up), D2: d2}
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func clampProb(p float64) float64 {
	return math.Max(minProbability, math.Min(maxProbability, p))
}

// Edge returns fair minus ask in percentage points, optionally net of the quoted spread.
func Edge(fair, ask, spread float64, subtractSpread bool) float64 {
	edge := (fair - ask) * 100
	if subtractSpread && spread > 0 {
		edge -= spread * 100
	}
	return edge
}

// KellyFraction returns the optimal stake fraction for a binary contract
// bought at price with win probability p.
func KellyFraction(p, price float64) float64 {
	if price <= 0 || price >= 1 {
		return 0
	}
	b := (1 - price) / price
	f := (p*b - (1 - p)) / b
	return math.Max(0, math.Min(1, f))
}

type Evaluation struct {
	Fair     FairResult
	EdgeUp   float64
	EdgeDown float64
}

func (e Evaluation) FairFor(d Direction) float64 {
	if d == Up {
		return e.Fair.Up
	}
	return e.Fair.Down
}

func (e Evaluation) EdgeFor(d Direction) float64 {
	if d == Up {
		return e.EdgeUp
	}
	return e.EdgeDown
}

func NewEvaluation(snap MarketSnapshot, subtractSpread bool) Evaluation {
	fair := FairValue(snap.Spot, snap.Strike, snap.SecondsLeft, snap.Volatility)
	return Evaluation{
		Fair:     fair,
		EdgeUp:   Edge(fair.Up, snap.UpAsk, quotedSpread(snap.UpAsk, snap.UpBid), subtractSpread),
		EdgeDown: Edge(fair.Down, snap.DownAsk, quotedSpread(snap.DownAsk, snap.DownBid), subtractSpread),
	}
}

func quotedSpread(ask, bid float64) float64 {
	if ask <= 0 || bid <= 0 {
		return 0
	}
	return ask - bid
}
