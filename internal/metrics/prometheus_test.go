package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.SignalsEmitted.Inc()
	prom.Metrics.HedgesPlaced.Inc()
	prom.Metrics.SafetyHedges.Inc()
	prom.Metrics.PanicUnwinds.Inc()
	prom.Metrics.EntriesSkipped.Inc()
	prom.Metrics.EventsDropped.Inc()
	prom.Metrics.EventsDropped.Inc()

	assertCounter(t, prom.ordersPlaced, 1)
	assertCounter(t, prom.ordersFailed, 1)
	assertCounter(t, prom.signalsEmitted, 1)
	assertCounter(t, prom.hedgesPlaced, 1)
	assertCounter(t, prom.safetyHedges, 1)
	assertCounter(t, prom.panicUnwinds, 1)
	assertCounter(t, prom.entriesSkipped, 1)
	assertCounter(t, prom.eventsDropped, 2)
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Balance.Set(42.5)
	prom.Metrics.OpenPositions.Set(2)
	if got := testutil.ToFloat64(prom.balance); got != 42.5 {
		t.Fatalf("expected balance 42.5, got %v", got)
	}
	if got := testutil.ToFloat64(prom.openPositions); got != 2 {
		t.Fatalf("expected 2 open positions, got %v", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	srv := httptest.NewServer(prom.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "polyedge_bot_orders_placed_total 1") {
		t.Fatalf("expected orders counter in scrape output:\n%s", body)
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoop()
	m.OrdersPlaced.Inc()
	m.Balance.Set(1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
