package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Local scheduler metrics
	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_jobs_running",
			Help: "Number of jobs currently executing",
		},
	)

	JobsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_jobs_queued",
			Help: "Number of jobs waiting in the priority queue",
		},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_jobs_total",
			Help: "Total number of jobs by terminal outcome",
		},
		[]string{"outcome"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drover_job_duration_seconds",
			Help:    "Wall-clock duration of completed job processes",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drover_dispatch_duration_seconds",
			Help:    "Time taken by a scheduler dispatch pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_nodes_total",
			Help: "Number of registered nodes by status",
		},
		[]string{"status"},
	)

	NodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_node_failures_total",
			Help: "Total number of node failures handled",
		},
	)

	HeartbeatScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drover_heartbeat_scan_duration_seconds",
			Help:    "Time taken by a heartbeat liveness scan",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_tasks_total",
			Help: "Number of tasks by status",
		},
		[]string{"status"},
	)

	TasksAssigned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_tasks_assigned_total",
			Help: "Total number of task-to-node assignments",
		},
	)

	TasksRescheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_tasks_rescheduled_total",
			Help: "Total number of tasks rescheduled after node failure, by strategy",
		},
		[]string{"strategy"},
	)

	TasksExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_tasks_exhausted_total",
			Help: "Total number of tasks dropped after exceeding the retry budget",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobsQueued)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(NodeFailures)
	prometheus.MustRegister(HeartbeatScanDuration)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksAssigned)
	prometheus.MustRegister(TasksRescheduled)
	prometheus.MustRegister(TasksExhausted)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
