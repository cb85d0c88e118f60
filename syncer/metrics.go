package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle results recorded in Metrics.Cycles.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics holds the syncer's prometheus collectors.
type Metrics struct {
	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	Agents        prometheus.Gauge
	Dropped       prometheus.Gauge
	LastSuccess   prometheus.Gauge
}

// NewMetrics registers the syncer collectors with reg. A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		Cycles: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentsync_sync_cycles_total",
			Help: "Sync cycles by result.",
		}, []string{"result"}),
		CycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "agentsync_sync_duration_seconds",
			Help:    "Duration of sync cycles, including preload.",
			Buckets: prometheus.DefBuckets,
		}),
		Agents: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentsync_agents",
			Help: "Agents in the active set.",
		}),
		Dropped: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentsync_sync_dropped_agents",
			Help: "Manifest entries dropped by the last successful cycle.",
		}),
		LastSuccess: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentsync_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync.",
		}),
	}
}
