package polymarket

import (
	"encoding/json"
	"sort"
	"strings"

	"polyedge-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

type Event struct {
	Slug        string        `json:"slug"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	EndDate     string        `json:"endDate"`
	Markets     []GammaMarket `json:"markets"`
}

type GammaMarket struct {
	ConditionID  string              `json:"conditionId"`
	Outcome      string              `json:"outcome"`
	ClobTokenIDs TokenIDs            `json:"clobTokenIds"`
	StartPrice   decimal.NullDecimal `json:"startPrice"`
	NegRisk      bool                `json:"negRisk"`
}

// TokenIDs accepts either a JSON array or a string holding a JSON array.
type TokenIDs []string

func (t *TokenIDs) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*t = arr
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*t = nil
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &arr); err != nil {
		*t = TokenIDs{raw}
		return nil
	}
	*t = arr
	return nil
}

type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type Book struct {
	AssetID  string      `json:"asset_id"`
	Bids     []BookLevel `json:"bids"`
	Asks     []BookLevel `json:"asks"`
	TickSize string      `json:"tick_size"`
	NegRisk  bool        `json:"neg_risk"`
}

// AskLevels converts the ask side into ascending strategy levels.
func (b Book) AskLevels() []strategy.Level {
	out := make([]strategy.Level, 0, len(b.Asks))
	for _, lvl := range b.Asks {
		out = append(out, strategy.Level{Price: lvl.Price.InexactFloat64(), Size: lvl.Size.InexactFloat64()})
	}
	return strategy.ParseLevels(out)
}

func (b Book) BestAsk() float64 {
	levels := b.AskLevels()
	if len(levels) == 0 {
		return 0
	}
	return levels[0].Price
}

func (b Book) BestBid() float64 {
	var best decimal.Decimal
	for _, lvl := range b.Bids {
		if lvl.Size.IsPositive() && lvl.Price.GreaterThan(best) {
			best = lvl.Price
		}
	}
	return best.InexactFloat64()
}

// Tick returns the book's minimum price increment, 0.01 when unknown.
func (b Book) Tick() decimal.Decimal {
	tick, err := decimal.NewFromString(strings.TrimSpace(b.TickSize))
	if err != nil || !tick.IsPositive() {
		return decimal.New(1, -2)
	}
	return tick
}

// RemotePosition is one row of the data-api positions endpoint.
type RemotePosition struct {
	Asset       string          `json:"asset"`
	ConditionID string          `json:"conditionId"`
	Size        decimal.Decimal `json:"size"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	Outcome     string          `json:"outcome"`
}

type OrderResponse struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
}

// Filled reports a matched order. Killed FOK orders come back with
// success set and a non-empty errorMsg.
func (r OrderResponse) Filled() bool {
	return r.Success && r.ErrorMsg == ""
}

func sortBids(levels []BookLevel) {
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price.GreaterThan(levels[j].Price) })
}
