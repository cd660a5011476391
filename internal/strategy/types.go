package strategy

import "time"

type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

func (d Direction) Opposite() Direction {
	if d == Up {
		return Down
	}
	return Up
}

type Action string

const (
	ActionEnter  Action = "ENTER"
	ActionExit   Action = "EXIT"
	ActionAdjust Action = "ADJUST"
	ActionHold   Action = "HOLD"
)

type HedgeType string

const (
	HedgeProfit    HedgeType = "PROFIT"
	HedgeStopLoss  HedgeType = "STOPLOSS"
	HedgeSafety    HedgeType = "SAFETY"
	HedgeSniper    HedgeType = "SNIPER"
	HedgeExit      HedgeType = "EXIT"
	HedgeQuit      HedgeType = "QUIT"
	HedgeArbitrage HedgeType = "ARBITRAGE"
)

type Name string

const (
	NameArbitrage Name = "arbitrage"
	NameEdgeHedge Name = "edge_hedge"
	NameSniper    Name = "expiry_sniper"
	NameTrend     Name = "trend"
)

const (
	TagDirectional = "directional"
	TagContrarian  = "contrarian"
)

// Level is one price level of an outcome token's ask book.
type Level struct {
	Price float64 `json:"price" msgpack:"p"`
	Size  float64 `json:"size" msgpack:"s"`
}

type MarketSnapshot struct {
	Asset       string
	Strike      float64
	Spot        float64
	Volatility  float64
	SecondsLeft float64
	UpAsk       float64
	UpBid       float64
	DownAsk     float64
	DownBid     float64
	UpAsks      []Level
	DownAsks    []Level
}

func (s MarketSnapshot) Ask(d Direction) float64 {
	if d == Up {
		return s.UpAsk
	}
	return s.DownAsk
}

func (s MarketSnapshot) Bid(d Direction) float64 {
	if d == Up {
		return s.UpBid
	}
	return s.DownBid
}

func (s MarketSnapshot) Asks(d Direction) []Level {
	if d == Up {
		return s.UpAsks
	}
	return s.DownAsks
}

// Ready reports whether the snapshot carries enough data to evaluate.
func (s MarketSnapshot) Ready() bool {
	return s.UpAsk > 0 && s.DownAsk > 0 && s.Strike > 0 && s.Spot > 0
}

type Position struct {
	Asset          string    `json:"asset" msgpack:"asset"`
	Market         string    `json:"market,omitempty" msgpack:"market"`
	Direction      Direction `json:"direction" msgpack:"direction"`
	EntryPrice     float64   `json:"entry_price" msgpack:"entry_price"`
	Size           float64   `json:"size" msgpack:"size"`
	Cost           float64   `json:"cost" msgpack:"cost"`
	Strategy       Name      `json:"strategy" msgpack:"strategy"`
	Tag            string    `json:"tag,omitempty" msgpack:"tag"`
	EntryProb      float64   `json:"entry_prob,omitempty" msgpack:"entry_prob"`
	OpenedAt       time.Time `json:"opened_at" msgpack:"opened_at"`
	IsHedged       bool      `json:"is_hedged" msgpack:"is_hedged"`
	HedgeDirection Direction `json:"hedge_direction,omitempty" msgpack:"hedge_direction"`
	HedgePrice     float64   `json:"hedge_price,omitempty" msgpack:"hedge_price"`
	HedgeSize      float64   `json:"hedge_size,omitempty" msgpack:"hedge_size"`
	HedgeType      HedgeType `json:"hedge_type,omitempty" msgpack:"hedge_type"`
	ExpectedPnL    float64   `json:"expected_pnl,omitempty" msgpack:"expected_pnl"`
}

// PnLPct marks the position to the given bid of the held side.
func (p *Position) PnLPct(bid float64) float64 {
	if p == nil || p.EntryPrice <= 0 {
		return 0
	}
	return (bid - p.EntryPrice) / p.EntryPrice * 100
}

// MarkHedged freezes the position. The expected P&L is the settled payout
// of the matched size minus both legs' cost.
func (p *Position) MarkHedged(dir Direction, price, size float64, typ HedgeType) {
	p.IsHedged = true
	p.HedgeDirection = dir
	p.HedgePrice = price
	p.HedgeSize = size
	p.HedgeType = typ
	matched := p.Size
	if size < matched {
		matched = size
	}
	p.ExpectedPnL = matched - p.Cost - price*size
}

// Add accumulates another fill in the same direction.
func (p *Position) Add(size, price float64) {
	if size <= 0 {
		return
	}
	p.Cost += size * price
	p.Size += size
	if p.Size > 0 {
		p.EntryPrice = p.Cost / p.Size
	}
}

type Signal struct {
	Strategy   Name
	Action     Action
	Direction  Direction
	Confidence float64
	Edge       float64
	Reason     string
	Metadata   map[string]any
	Tag        string
	AmountUSDC float64
	Size       float64
	Price      float64
	HedgeType  HedgeType
	Arbitrage  *ArbitrageParams
}

func Hold(name Name, reason string) Signal {
	return Signal{Strategy: name, Action: ActionHold, Reason: reason}
}

func (s Signal) Actionable() bool {
	return s.Action != "" && s.Action != ActionHold
}

// Fill is a confirmed execution reported back to the strategy that asked for it.
type Fill struct {
	Size  float64
	Price float64
	At    time.Time
}
