package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	CutoutLatency   prometheus.Histogram
	BytesStreamed   prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	AccessDecisions *prometheus.CounterVec
	RequestsTotal   *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		CutoutLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitsgw_cutout_duration_seconds",
			Help:    "Time to resolve and stream a FITS cutout.",
			Buckets: prometheus.DefBuckets,
		}),
		BytesStreamed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fitsgw_bytes_streamed_total",
			Help: "Total bytes streamed to clients across cutout, whole-file and listing responses.",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fitsgw_cache_hits_total",
			Help: "Directory listing cache hits.",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fitsgw_cache_misses_total",
			Help: "Directory listing cache misses.",
		}),
		AccessDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsgw_access_decisions_total",
			Help: "Access-check outcomes by decision (granted, row_only, date_only, row_date, denied).",
		}, []string{"decision"}),
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsgw_requests_total",
			Help: "HTTP requests by route kind and outcome status.",
		}, []string{"kind", "status"}),
	}
}

// ObserveBytesStreamed adds n to the bytes-streamed counter.
func (m *Metrics) ObserveBytesStreamed(n int) {
	if n > 0 {
		m.BytesStreamed.Add(float64(n))
	}
}

// ObserveAccessDecision increments the counter for a single access decision.
func (m *Metrics) ObserveAccessDecision(decision string) {
	m.AccessDecisions.WithLabelValues(decision).Inc()
}

// ObserveRequest increments the request counter for a route kind and status.
func (m *Metrics) ObserveRequest(kind, status string) {
	m.RequestsTotal.WithLabelValues(kind, status).Inc()
}
