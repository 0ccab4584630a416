// Package metrics provides Prometheus instrumentation for the queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the inference queue.
type Metrics struct {
	JobsEnqueued    *prometheus.CounterVec
	JobsSucceeded   prometheus.Counter
	JobsFailed      prometheus.Counter
	JobsRetried     prometheus.Counter
	JobLatency      prometheus.Histogram
	PendingDepth    prometheus.Gauge
	ProcessingDepth prometheus.Gauge
	WorkerBusy      *prometheus.GaugeVec
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inferq_jobs_enqueued_total",
			Help: "Jobs admitted to the queue, partitioned by priority class.",
		}, []string{"priority"}),

		JobsSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inferq_jobs_succeeded_total",
			Help: "Jobs that completed successfully.",
		}),

		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inferq_jobs_failed_total",
			Help: "Jobs that exhausted their retry budget.",
		}),

		JobsRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inferq_jobs_retried_total",
			Help: "Failed attempts that were re-queued.",
		}),

		JobLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "inferq_job_latency_seconds",
			Help:    "Time from admission to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),

		PendingDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "inferq_pending_depth",
			Help: "Current number of jobs in the pending set.",
		}),

		ProcessingDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "inferq_processing_depth",
			Help: "Current number of leased jobs.",
		}),

		WorkerBusy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inferq_worker_busy",
			Help: "Whether a worker loop is processing a job (1=busy, 0=idle).",
		}, []string{"worker_id"}),
	}
}
