package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "polyedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry       *prometheus.Registry
	ordersPlaced   prometheus.Counter
	ordersFailed   prometheus.Counter
	signalsEmitted prometheus.Counter
	hedgesPlaced   prometheus.Counter
	safetyHedges   prometheus.Counter
	panicUnwinds   prometheus.Counter
	entriesSkipped prometheus.Counter
	eventsDropped  prometheus.Counter
	balance        prometheus.Gauge
	openPositions  prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:       registry,
		ordersPlaced:   newCounter("orders_placed_total", "Total number of orders filled by the gateway."),
		ordersFailed:   newCounter("orders_failed_total", "Total number of order placement failures."),
		signalsEmitted: newCounter("signals_emitted_total", "Total number of actionable strategy signals."),
		hedgesPlaced:   newCounter("hedges_placed_total", "Total number of hedge legs filled."),
		safetyHedges:   newCounter("safety_hedges_total", "Total number of global stop-loss hedges."),
		panicUnwinds:   newCounter("panic_unwinds_total", "Total number of one-legged arbitrage unwinds."),
		entriesSkipped: newCounter("entries_skipped_total", "Total number of entries refused for insufficient balance."),
		eventsDropped:  newCounter("events_dropped_total", "Total number of telemetry events dropped on a full buffer."),
		balance:        newGauge("wallet_balance_usdc", "Last synced USDC balance."),
		openPositions:  newGauge("open_positions", "Number of tracked positions."),
	}
	registry.MustRegister(
		p.ordersPlaced, p.ordersFailed, p.signalsEmitted, p.hedgesPlaced, p.safetyHedges,
		p.panicUnwinds, p.entriesSkipped, p.eventsDropped, p.balance, p.openPositions,
	)

	p.Metrics = &Metrics{
		OrdersPlaced:   promCounter{p.ordersPlaced},
		OrdersFailed:   promCounter{p.ordersFailed},
		SignalsEmitted: promCounter{p.signalsEmitted},
		HedgesPlaced:   promCounter{p.hedgesPlaced},
		SafetyHedges:   promCounter{p.safetyHedges},
		PanicUnwinds:   promCounter{p.panicUnwinds},
		EntriesSkipped: promCounter{p.entriesSkipped},
		EventsDropped:  promCounter{p.eventsDropped},
		Balance:        promGauge{p.balance},
		OpenPositions:  promGauge{p.openPositions},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
