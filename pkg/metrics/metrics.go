package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llamafarm_tasks_dispatched_total",
			Help: "Total number of tasks dispatched by name",
		},
		[]string{"name"},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llamafarm_tasks_completed_total",
			Help: "Total number of tasks completed by name and terminal state",
		},
		[]string{"name", "state"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llamafarm_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"name"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llamafarm_queue_depth",
			Help: "Unclaimed messages per queue",
		},
		[]string{"queue"},
	)

	// Ingestion metrics
	ChunksStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llamafarm_chunks_stored_total",
			Help: "Total chunks written to the vector store by database",
		},
		[]string{"database"},
	)

	ChunksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llamafarm_chunks_skipped_total",
			Help: "Total chunks skipped by reason",
		},
		[]string{"reason"},
	)

	EmbeddingBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llamafarm_embedding_batch_duration_seconds",
			Help:    "Embedding batch round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Download metrics
	DownloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llamafarm_download_bytes_total",
			Help: "Total model artifact bytes streamed to clients",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llamafarm_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llamafarm_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(TasksDispatched)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ChunksStored)
	prometheus.MustRegister(ChunksSkipped)
	prometheus.MustRegister(EmbeddingBatchDuration)
	prometheus.MustRegister(DownloadBytes)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
