// Package metrics holds the Prometheus collectors of the processing backend.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chunk_relay"

type Metrics struct {
	registry        *prometheus.Registry
	chunks          *prometheus.CounterVec
	results         *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	assembly        prometheus.Histogram
}

// New registers the collectors on a private registry. activeSessions is
// sampled on every scrape.
func New(activeSessions func() float64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunk records handled, by outcome.",
		}, []string{"outcome"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Result records reported, by status.",
		}, []string{"status"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Transport failures, by operation.",
		}, []string{"op"}),
		assembly: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assembly_duration_seconds",
			Help:      "Time spent writing and moving assembled files.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}
	m.registry.MustRegister(m.chunks, m.results, m.transportErrors, m.assembly)
	if activeSessions != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently accumulating chunks.",
		}, activeSessions))
	}
	return m
}

func (m *Metrics) ChunkOutcome(outcome string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Result(status string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(status).Inc()
}

func (m *Metrics) TransportError(op string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveAssembly(d time.Duration) {
	if m == nil {
		return
	}
	m.assembly.Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
