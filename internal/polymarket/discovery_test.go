package polymarket

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeEvents struct {
	bySlug map[string][]Event
	calls  []string
}

func (f *fakeEvents) Events(_ context.Context, slug string) ([]Event, error) {
	f.calls = append(f.calls, slug)
	return f.bySlug[slug], nil
}

type fakeStrike struct {
	open  float64
	start time.Time
}

func (f *fakeStrike) KlineOpen(_ context.Context, _ string, start time.Time) (float64, error) {
	f.start = start
	return f.open, nil
}

// 17:30 UTC is 12:30 ET.
var discoveryNow = time.Date(2026, time.January, 15, 17, 30, 0, 0, time.UTC)

func TestSlug(t *testing.T) {
	cases := []struct {
		asset  string
		now    time.Time
		offset int
		want   string
	}{
		{"BTC", discoveryNow, 0, "bitcoin-up-or-down-january-15-12pm-et"},
		{"BTC", discoveryNow, 1, "bitcoin-up-or-down-january-15-1pm-et"},
		{"ETH", time.Date(2026, time.March, 2, 5, 10, 0, 0, time.UTC), 0, "ethereum-up-or-down-march-2-12am-et"},
		{"ETH", time.Date(2026, time.March, 2, 4, 59, 0, 0, time.UTC), 0, "ethereum-up-or-down-march-1-11pm-et"},
		{"BTC", time.Date(2026, time.July, 4, 14, 0, 0, 0, time.UTC), 0, "bitcoin-up-or-down-july-4-9am-et"},
	}
	for _, tc := range cases {
		got, err := Slug(tc.asset, tc.now, tc.offset)
		if err != nil {
			t.Fatalf("slug: %v", err)
		}
		if got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
	if _, err := Slug("DOGE", discoveryNow, 0); err == nil {
		t.Fatalf("expected error for unsupported asset")
	}
}

func TestParseStrike(t *testing.T) {
	cases := []struct {
		title, desc string
		want        float64
		ok          bool
	}{
		{"Bitcoin above $97,250.50?", "", 97250.50, true},
		{"Bitcoin Up or Down", "Resolves UP if the close is above the starting price of 3,512.25 USD.", 3512.25, true},
		{"Bitcoin Up or Down", "Compared with the price at 96500 at the start.", 96500, true},
		{"Bitcoin Up or Down", "Resolves against the Binance 1 hour candle.", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseStrike(tc.title, tc.desc)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseStrike(%q, %q) = %v, %v; want %v, %v", tc.title, tc.desc, got, ok, tc.want, tc.ok)
		}
	}
}

func TestFindSkipsMissingAndUsesNextHour(t *testing.T) {
	events := &fakeEvents{bySlug: map[string][]Event{
		"bitcoin-up-or-down-january-15-1pm-et": {{
			Title:       "Bitcoin Up or Down - January 15, 1PM ET",
			Description: "Resolves UP if the close is at or above $97,250.50.",
			EndDate:     "2026-01-15T19:00:00Z",
			Markets: []GammaMarket{{
				ConditionID:  "0xcond",
				ClobTokenIDs: TokenIDs{"up-token", "down-token"},
			}},
		}},
	}}
	d := NewDiscovery(events, nil, zap.NewNop())
	m, err := d.Find(context.Background(), "BTC", discoveryNow)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(events.calls) != 2 {
		t.Fatalf("expected two lookups, got %v", events.calls)
	}
	if m.UpToken != "up-token" || m.DownToken != "down-token" || m.ConditionID != "0xcond" {
		t.Fatalf("unexpected market: %+v", m)
	}
	if m.Strike != 97250.50 {
		t.Fatalf("expected strike 97250.50, got %v", m.Strike)
	}
	if !m.End.Equal(time.Date(2026, time.January, 15, 19, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %v", m.End)
	}
}

func TestFindStrikeFallbacks(t *testing.T) {
	slug := "bitcoin-up-or-down-january-15-12pm-et"
	withStart := &fakeEvents{bySlug: map[string][]Event{slug: {{
		Title:   "Bitcoin Up or Down",
		EndDate: "2026-01-15T18:00:00Z",
		Markets: []GammaMarket{{ClobTokenIDs: TokenIDs{"u", "d"}}},
	}}}}
	if err := withStart.bySlug[slug][0].Markets[0].StartPrice.UnmarshalJSON([]byte(`"96000.25"`)); err != nil {
		t.Fatalf("start price: %v", err)
	}
	m, err := NewDiscovery(withStart, nil, zap.NewNop()).Find(context.Background(), "BTC", discoveryNow)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.Strike != 96000.25 {
		t.Fatalf("expected start price strike, got %v", m.Strike)
	}

	bare := &fakeEvents{bySlug: map[string][]Event{slug: {{
		Title:   "Bitcoin Up or Down",
		EndDate: "2026-01-15T18:00:00Z",
		Markets: []GammaMarket{{ClobTokenIDs: TokenIDs{"u", "d"}}},
	}}}}
	strike := &fakeStrike{open: 95800}
	m, err = NewDiscovery(bare, strike, zap.NewNop()).Find(context.Background(), "BTC", discoveryNow)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.Strike != 95800 {
		t.Fatalf("expected kline strike, got %v", m.Strike)
	}
	if !strike.start.Equal(time.Date(2026, time.January, 15, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected kline at end-1h, got %v", strike.start)
	}
}

func TestFindNotFound(t *testing.T) {
	slug := "bitcoin-up-or-down-january-15-12pm-et"
	expired := &fakeEvents{bySlug: map[string][]Event{slug: {{
		Title:   "Bitcoin above $1?",
		EndDate: "2026-01-15T17:00:00Z",
		Markets: []GammaMarket{{ClobTokenIDs: TokenIDs{"u", "d"}}},
	}}}}
	_, err := NewDiscovery(expired, nil, zap.NewNop()).Find(context.Background(), "BTC", discoveryNow)
	if !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
	if len(expired.calls) != 3 {
		t.Fatalf("expected three lookups, got %d", len(expired.calls))
	}
}
