// Package metrics exposes Prometheus instruments for the sync coordinator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moneybook"

// Sync holds the counters the coordinator updates on every state transition.
type Sync struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Pending    prometheus.Gauge
	Drift      prometheus.Counter
}

// NewSync creates the sync instruments and registers them on reg. A nil reg
// leaves them unregistered, which is what tests usually want.
func NewSync(reg prometheus.Registerer) *Sync {
	m := &Sync{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_operations_total",
			Help:      "Remote writes by operation and final state.",
		}, []string{"op", "state"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Time from optimistic apply to confirm or rollback.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_pending",
			Help:      "Operations applied locally and awaiting the remote store.",
		}),
		Drift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_drift_total",
			Help:      "Cached balances corrected by reconciliation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.Duration, m.Pending, m.Drift)
	}
	return m
}

// Begin marks an operation pending and returns the func that settles it.
func (m *Sync) Begin(op string) func(state string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.Pending.Inc()
	return func(state string) {
		m.Pending.Dec()
		m.Operations.WithLabelValues(op, state).Inc()
		m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// DriftCorrected counts n reconciliation corrections.
func (m *Sync) DriftCorrected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Drift.Add(float64(n))
}

// NewRegistry returns a registry with the Go and process collectors installed.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
