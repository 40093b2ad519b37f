package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue and pipeline metrics
var (
	// QueueDepth tracks the number of tasks waiting in the queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vidserve",
			Name:      "queue_depth",
			Help:      "Number of tasks waiting in the processing queue",
		},
	)

	// ActiveJobs tracks the number of currently running tasks.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vidserve",
			Name:      "active_jobs",
			Help:      "Number of currently running processing tasks",
		},
	)

	// TasksTotal counts finished tasks by kind and outcome.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidserve",
			Name:      "tasks_total",
			Help:      "Total number of finished processing tasks",
		},
		[]string{"kind", "outcome"},
	)

	// StepDuration tracks the time spent in each pipeline step.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vidserve",
			Name:      "pipeline_step_duration_seconds",
			Help:      "Time spent in each pipeline step",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"step"},
	)
)

// Upload metrics
var (
	// ChunksReceived counts accepted chunk submissions.
	ChunksReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vidserve",
			Name:      "chunks_received_total",
			Help:      "Total number of accepted chunk submissions",
		},
	)

	// ChunkBytes counts uploaded chunk bytes.
	ChunkBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vidserve",
			Name:      "chunk_bytes_total",
			Help:      "Total bytes of uploaded chunks",
		},
	)
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidserve",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vidserve",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "path"},
	)
)
