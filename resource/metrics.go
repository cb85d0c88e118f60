package resource

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load results recorded in Metrics.Loads.
const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultStale = "stale"
	resultError = "error"
)

// Metrics holds the loader's prometheus collectors.
type Metrics struct {
	Loads         *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	CacheEntries  prometheus.Gauge
}

// NewMetrics registers the loader collectors with reg. A nil reg uses a private registry
// that is never exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		Loads: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentsync_resource_loads_total",
			Help: "Resource loads by result (hit, miss, stale, error).",
		}, []string{"result"}),
		FetchDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentsync_resource_fetch_duration_seconds",
			Help:    "Latency of resource fetches that reached the network.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"type"}),
		CacheEntries: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentsync_resource_cache_entries",
			Help: "Number of entries in the resource cache.",
		}),
	}
}
