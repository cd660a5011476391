package polymarket

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrMarketNotFound = errors.New("hourly market not found")

// Hourly markets are named in US Eastern time, taken as a fixed UTC-5.
var eastern = time.FixedZone("ET", -5*3600)

var slugAssets = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
}

var strikePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$([0-9,]+\.?\d*)`),
	regexp.MustCompile(`(?i)starting price of \$?([0-9,]+\.?\d*)`),
	regexp.MustCompile(`(?i)price at \$?([0-9,]+\.?\d*)`),
}

// Market is one hourly UP/DOWN market.
type Market struct {
	Asset       string
	Slug        string
	ConditionID string
	UpToken     string
	DownToken   string
	Strike      float64
	End         time.Time
	NegRisk     bool
}

func (m Market) Token(up bool) string {
	if up {
		return m.UpToken
	}
	return m.DownToken
}

func (m Market) Expired(now time.Time) bool {
	return !m.End.IsZero() && !now.Before(m.End)
}

// StrikeSource backfills a strike from the opening spot price.
type StrikeSource interface {
	KlineOpen(ctx context.Context, asset string, start time.Time) (float64, error)
}

type eventSource interface {
	Events(ctx context.Context, slug string) ([]Event, error)
}

type Discovery struct {
	events eventSource
	strike StrikeSource
	log    *zap.Logger
}

func NewDiscovery(events eventSource, strike StrikeSource, log *zap.Logger) *Discovery {
	if log == nil {
		log = zap.NewNop()
	}
	return &Discovery{events: events, strike: strike, log: log}
}

// Slug names the market for the hour containing now, shifted by offset hours.
func Slug(asset string, now time.Time, offset int) (string, error) {
	name, ok := slugAssets[strings.ToUpper(asset)]
	if !ok {
		return "", fmt.Errorf("unsupported asset %q", asset)
	}
	et := now.In(eastern).Truncate(time.Hour).Add(time.Duration(offset) * time.Hour)
	hour := et.Hour()
	var label string
	switch {
	case hour == 0:
		label = "12am"
	case hour < 12:
		label = fmt.Sprintf("%dam", hour)
	case hour == 12:
		label = "12pm"
	default:
		label = fmt.Sprintf("%dpm", hour-12)
	}
	return fmt.Sprintf("%s-up-or-down-%s-%d-%s-et", name, strings.ToLower(et.Month().String()), et.Day(), label), nil
}

// ParseStrike looks for a dollar amount in the title first, then the description.
func ParseStrike(title, description string) (float64, bool) {
	if v, ok := matchStrike(strikePatterns[0], title); ok {
		return v, true
	}
	for _, re := range strikePatterns {
		if v, ok := matchStrike(re, description); ok {
			return v, true
		}
	}
	return 0, false
}

func matchStrike(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || !v.IsPositive() {
		return 0, false
	}
	return v.InexactFloat64(), true
}

// Find tries the current hour and the next two.
func (d *Discovery) Find(ctx context.Context, asset string, now time.Time) (Market, error) {
	for offset := 0; offset < 3; offset++ {
		slug, err := Slug(asset, now, offset)
		if err != nil {
			return Market{}, err
		}
		m, ok, err := d.try(ctx, asset, slug)
		if err != nil {
			if ctx.Err() != nil {
				return Market{}, ctx.Err()
			}
			d.log.Debug("market lookup failed", zap.String("slug", slug), zap.Error(err))
			continue
		}
		if ok && !m.Expired(now) {
			return m, nil
		}
	}
	return Market{}, fmt.Errorf("%s: %w", asset, ErrMarketNotFound)
}

func (d *Discovery) try(ctx context.Context, asset, slug string) (Market, bool, error) {
	events, err := d.events.Events(ctx, slug)
	if err != nil {
		return Market{}, false, err
	}
	if len(events) == 0 || len(events[0].Markets) == 0 {
		return Market{}, false, nil
	}
	ev := events[0]
	m := Market{Asset: strings.ToUpper(asset), Slug: slug}
	for _, gm := range ev.Markets {
		if m.ConditionID == "" {
			m.ConditionID = gm.ConditionID
		}
		m.NegRisk = m.NegRisk || gm.NegRisk
		if len(gm.ClobTokenIDs) >= 2 && m.UpToken == "" {
			m.UpToken = gm.ClobTokenIDs[0]
			m.DownToken = gm.ClobTokenIDs[1]
		}
	}
	if m.UpToken == "" || m.DownToken == "" {
		return Market{}, false, fmt.Errorf("%s: missing clob token ids", slug)
	}
	if end, err := time.Parse(time.RFC3339, ev.EndDate); err == nil {
		m.End = end.UTC()
	}
	if strike, ok := ParseStrike(ev.Title, ev.Description); ok {
		m.Strike = strike
	} else {
		for _, gm := range ev.Markets {
			if gm.StartPrice.Valid && gm.StartPrice.Decimal.IsPositive() {
				m.Strike = gm.StartPrice.Decimal.InexactFloat64()
				break
			}
		}
	}
	if m.Strike == 0 && !m.End.IsZero() && d.strike != nil {
		open, err := d.strike.KlineOpen(ctx, m.Asset, m.End.Add(-time.Hour))
		if err != nil {
			d.log.Warn("strike backfill failed", zap.String("slug", slug), zap.Error(err))
		} else {
			m.Strike = open
		}
	}
	return m, true, nil
}
