package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the downloader.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	BooksTotal      *prometheus.CounterVec
	BytesWritten    *prometheus.CounterVec
	RestartsTotal   prometheus.Counter
	BackoffSeconds  prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tululu_requests_total",
			Help: "Total HTTP requests issued, by resource kind and phase.",
		},
		[]string{"kind", "phase"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tululu_request_duration_seconds",
			Help:    "HTTP request latency by resource kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	books := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tululu_books_total",
			Help: "Per-book outcomes reported by the batch.",
		},
		[]string{"outcome"},
	)
	bytesWritten := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tululu_bytes_written_total",
			Help: "Bytes persisted to disk, by directory.",
		},
		[]string{"dir"},
	)
	restarts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tululu_batch_restarts_total",
			Help: "Number of times the batch restarted after a connection failure.",
		},
	)
	backoffSeconds := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tululu_backoff_seconds_total",
			Help: "Total time spent waiting before restarts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tululu_errors_total",
			Help: "Total number of request errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, books, bytesWritten, restarts, backoffSeconds, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		BooksTotal:      books,
		BytesWritten:    bytesWritten,
		RestartsTotal:   restarts,
		BackoffSeconds:  backoffSeconds,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(kind, phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind, phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncBook counts one per-book outcome.
func (m *Metrics) IncBook(outcome string) {
	if m == nil {
		return
	}
	m.BooksTotal.WithLabelValues(outcome).Inc()
}

// AddBytes records bytes written under dir.
func (m *Metrics) AddBytes(dir string, n int) {
	if m == nil {
		return
	}
	m.BytesWritten.WithLabelValues(dir).Add(float64(n))
}

// IncRestart counts a batch restart and the wait that preceded it.
func (m *Metrics) IncRestart(wait time.Duration) {
	if m == nil {
		return
	}
	m.RestartsTotal.Inc()
	m.BackoffSeconds.Add(wait.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
