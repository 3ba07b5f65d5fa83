package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a harvesting run.
type Metrics struct {
	Registry      *prometheus.Registry
	FetchesTotal  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	RecordsTotal  *prometheus.CounterVec
	TasksTotal    *prometheus.CounterVec
	QueueDepth    *prometheus.GaugeVec
	BytesSaved    prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetches_total",
			Help: "Total fetches issued by the harvester by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_fetch_duration_seconds",
			Help:    "Latency of network fetches.",
			Buckets: prometheus.DefBuckets,
		},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_records_total",
			Help: "Listing records by result (queued or dropped).",
		},
		[]string{"result"},
	)
	tasks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_tasks_total",
			Help: "Processed tasks by stage and result.",
		},
		[]string{"stage", "result"},
	)
	depth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_queue_depth",
			Help: "Buffered items per task queue.",
		},
		[]string{"queue"},
	)
	bytesSaved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_image_bytes_saved_total",
			Help: "Total image bytes written to storage.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, records, tasks, depth, bytesSaved)

	return &Metrics{
		Registry:      registry,
		FetchesTotal:  fetches,
		FetchDuration: fetchDuration,
		RecordsTotal:  records,
		TasksTotal:    tasks,
		QueueDepth:    depth,
		BytesSaved:    bytesSaved,
	}
}

// ObserveFetch counts a fetch outcome and records its latency. Cache hits
// are counted but not timed.
func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.FetchDuration.Observe(d.Seconds())
	}
}

// IncRecord increments the records counter for a result label.
func (m *Metrics) IncRecord(result string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(result).Inc()
}

// IncTask increments the tasks counter for a stage and result.
func (m *Metrics) IncTask(stage, result string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(stage, result).Inc()
}

// SetQueueDepth records the buffered length of a queue.
func (m *Metrics) SetQueueDepth(queue string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(n))
}

// AddBytes adds to the saved-bytes counter.
func (m *Metrics) AddBytes(n int) {
	if m == nil {
		return
	}
	m.BytesSaved.Add(float64(n))
}
