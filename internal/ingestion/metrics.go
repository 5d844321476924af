package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result sources recorded by the ensure counter.
const (
	sourceSession   = "session"
	sourceCache     = "cache"
	sourceCoalesced = "coalesced"
	sourceFetch     = "fetch"
	sourceError     = "error"
)

// Metrics holds the Prometheus instruments of the ingestion pipeline.
type Metrics struct {
	ensureTotal       *prometheus.CounterVec
	fetchFailures     *prometheus.CounterVec
	probeDegraded     prometheus.Counter
	reclaimFailures   prometheus.Counter
	fetchDuration     prometheus.Histogram
	serializeDuration prometheus.Histogram
	contextBytes      prometheus.Histogram
	activeSessions    prometheus.Gauge
}

// NewMetrics creates the instruments and registers them when registerer is not nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		ensureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repolens_ingestion_ensure_total",
			Help: "EnsureContext calls by the source that satisfied them",
		}, []string{"source"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repolens_ingestion_fetch_failures_total",
			Help: "Repository fetch failures by kind",
		}, []string{"kind"}),
		probeDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repolens_ingestion_probe_degraded_total",
			Help: "Revision probes that fell back to the sentinel revision",
		}),
		reclaimFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repolens_ingestion_reclaim_failures_total",
			Help: "Stale workspace slots that could not be removed",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repolens_ingestion_fetch_duration_seconds",
			Help:    "Duration of repository clones",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		serializeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repolens_ingestion_serialize_duration_seconds",
			Help:    "Duration of working copy serialization",
			Buckets: prometheus.DefBuckets,
		}),
		contextBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repolens_ingestion_context_bytes",
			Help:    "Size of serialized contexts",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repolens_ingestion_active_sessions",
			Help: "Sessions currently tracked by the ingestion facade",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			metrics.ensureTotal,
			metrics.fetchFailures,
			metrics.probeDegraded,
			metrics.reclaimFailures,
			metrics.fetchDuration,
			metrics.serializeDuration,
			metrics.contextBytes,
			metrics.activeSessions,
		)
	}
	return metrics
}
