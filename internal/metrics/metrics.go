package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	OrdersPlaced   Counter
	OrdersFailed   Counter
	SignalsEmitted Counter
	HedgesPlaced   Counter
	SafetyHedges   Counter
	PanicUnwinds   Counter
	EntriesSkipped Counter
	EventsDropped  Counter
	Balance        Gauge
	OpenPositions  Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		OrdersPlaced:   n,
		OrdersFailed:   n,
		SignalsEmitted: n,
		HedgesPlaced:   n,
		SafetyHedges:   n,
		PanicUnwinds:   n,
		EntriesSkipped: n,
		EventsDropped:  n,
		Balance:        g,
		OpenPositions:  g,
	}
}
