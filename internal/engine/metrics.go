package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments inquiries and reloads.
type Metrics struct {
	inquiries *prometheus.CounterVec
	duration  prometheus.Histogram
	reloads   *prometheus.CounterVec
	version   prometheus.Gauge
}

// NewMetrics creates the engine collectors and registers them on reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inquiries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mimir",
			Name:      "inquiries_total",
			Help:      "Inquiries handled, by outcome.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mimir",
			Name:      "inquiry_duration_seconds",
			Help:      "End-to-end inquiry latency, planning through combining.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mimir",
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts, by outcome.",
		}, []string{"status"}),
		version: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mimir",
			Name:      "config_version",
			Help:      "Generation of the active configuration state.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.inquiries, m.duration, m.reloads, m.version)
	}
	return m
}
