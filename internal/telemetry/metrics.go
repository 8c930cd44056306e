package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inventory_sync"

// Sync attempt outcomes.
const (
	OutcomeSynced    = "synced"
	OutcomeRetryable = "retryable"
	OutcomeAuth      = "auth"
	OutcomePermanent = "permanent"
)

// Metrics holds the Prometheus collectors of the agent.
type Metrics struct {
	OperationsEnqueued *prometheus.CounterVec
	SyncAttempts       *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	HistorySize        prometheus.Gauge
	SyncDuration       prometheus.Histogram
	Drains             prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_enqueued_total",
			Help:      "Operations accepted by the sync engine, by action",
		}, []string{"action"}),
		SyncAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Remote adjustment attempts, by outcome",
		}, []string{"outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_queue_depth",
			Help:      "Operations currently in the pending queue",
		}),
		HistorySize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_log_size",
			Help:      "Operations currently in the history log",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of remote adjustment calls",
			Buckets:   prometheus.DefBuckets,
		}),
		Drains: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drains_total",
			Help:      "Queue drains run",
		}),
	}
}
