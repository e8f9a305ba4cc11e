package telemetry

import "github.com/prometheus/client_golang/prometheus"

// RunsDispatchedTotal counts dispatcher invocations by processor.
var RunsDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "assetintel",
		Subsystem: "runs",
		Name:      "dispatched_total",
		Help:      "Total number of runs handed to a processor handler.",
	},
	[]string{"processor"},
)

// RunsCompletedTotal counts terminal runs by processor and terminal status.
var RunsCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "assetintel",
		Subsystem: "runs",
		Name:      "completed_total",
		Help:      "Total number of runs reaching a terminal status, by processor and status.",
	},
	[]string{"processor", "status"},
)

// RunsDeadletteredTotal counts dead-lettered runs by processor.
var RunsDeadletteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "assetintel",
		Subsystem: "runs",
		Name:      "deadlettered_total",
		Help:      "Total number of runs dead-lettered after exhausting retries.",
	},
	[]string{"processor"},
)

// AdmissionDecisionsTotal counts admission outcomes by decision kind.
var AdmissionDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "assetintel",
		Subsystem: "admission",
		Name:      "decisions_total",
		Help:      "Total number of admission decisions by outcome.",
	},
	[]string{"processor", "decision"},
)

// QueueDepth reports the approximate number of pending jobs on the queue.
var QueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "assetintel",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Approximate number of jobs waiting on the run queue.",
	},
)

// RunDispatchDuration measures processor handler execution time.
var RunDispatchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "assetintel",
		Subsystem: "runs",
		Name:      "dispatch_duration_seconds",
		Help:      "Processor handler execution duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	},
	[]string{"processor"},
)

// HTTPRequestDuration measures HTTP request handling time by route/status.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "assetintel",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// All returns all asset-intelligence-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RunsDispatchedTotal,
		RunsCompletedTotal,
		RunsDeadletteredTotal,
		AdmissionDecisionsTotal,
		QueueDepth,
		RunDispatchDuration,
		HTTPRequestDuration,
	}
}
