package executor

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments atomic query execution.
type Metrics struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewMetrics creates the executor collectors and registers them on reg. A
// nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mimir",
			Name:      "atomic_queries_total",
			Help:      "Total atomic queries executed, by source and status.",
		}, []string{"source", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mimir",
			Name:      "atomic_query_duration_seconds",
			Help:      "Time spent executing atomic queries against their source.",
			// 5ms to ~80s.
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"source"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mimir",
			Name:      "atomic_queries_in_flight",
			Help:      "Atomic queries currently executing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.queries, m.duration, m.inFlight)
	}
	return m
}
