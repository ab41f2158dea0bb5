// Package metrics exposes Prometheus instrumentation for the kernel.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the kernel records. All instruments are
// registered on a private registry so multiple kernels can coexist in one
// process.
type Metrics struct {
	registry *prometheus.Registry

	EventsAppended    *prometheus.CounterVec
	AdmissionsTotal   *prometheus.CounterVec
	ViolationsTotal   *prometheus.CounterVec
	HeartbeatMisses   prometheus.Counter
	BreakerLevel      prometheus.Gauge
	DiscrepancyScore  *prometheus.GaugeVec
	AdmissionLatency  prometheus.Histogram
	SuspensionsActive prometheus.Gauge
}

// New creates and registers all kernel instruments.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_ledger_events_total",
			Help: "Events appended to the ledger, by chain.",
		}, []string{"chain"}),

		AdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_admissions_total",
			Help: "Admission gate decisions, by outcome.",
		}, []string{"outcome"}),

		ViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_violations_total",
			Help: "Violations recorded, by class.",
		}, []string{"class"}),

		HeartbeatMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_heartbeat_misses_total",
			Help: "Heartbeat deadlines missed across all agents.",
		}),

		BreakerLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_breaker_level",
			Help: "Current circuit breaker level (1=lockdown, 5=nominal).",
		}),

		DiscrepancyScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigil_reconciliation_discrepancy_score",
			Help: "Latest reconciliation discrepancy score, by component.",
		}, []string{"component"}),

		AdmissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_admission_latency_seconds",
			Help:    "End-to-end latency of admission gate decisions.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		SuspensionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_suspensions_active",
			Help: "Agents currently suspended.",
		}),
	}

	m.registry.MustRegister(
		m.EventsAppended,
		m.AdmissionsTotal,
		m.ViolationsTotal,
		m.HeartbeatMisses,
		m.BreakerLevel,
		m.DiscrepancyScore,
		m.AdmissionLatency,
		m.SuspensionsActive,
	)
	return m
}

// Handler returns the HTTP handler serving this registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
