// Package metrics holds the Prometheus instruments of the server and consumer.
// All methods are safe on a nil *Metrics so tests and tools can skip wiring.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

const namespace = "taskflow"

// Metrics holds all instruments.
type Metrics struct {
	gatherer prometheus.Gatherer

	submissions    *prometheus.CounterVec
	rowsProcessed  *prometheus.CounterVec
	processingTime prometheus.Histogram
	deadLetters    *prometheus.CounterVec
	terminalTasks  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec

	queuePending   prometheus.Gauge
	queueRetrying  prometheus.Gauge
	queueOldestAge prometheus.Gauge
	dlqSize        prometheus.Gauge
}

// New registers every instrument with reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "submissions_total",
			Help:      "Result bundle submissions by outcome",
		}, []string{"outcome"}),
		rowsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "rows_processed_total",
			Help:      "Queue rows handled by consumers by result",
		}, []string{"result"}),
		processingTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "processing_seconds",
			Help:      "Time from claim to commit of one queue row",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		deadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "rows_total",
			Help:      "Rows moved to the dead-letter store by reason",
		}, []string{"reason"}),
		terminalTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "terminal_total",
			Help:      "Tasks reaching a terminal status",
		}, []string{"status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		queuePending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending_rows",
			Help:      "Rows waiting in the result queue",
		}),
		queueRetrying: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "retrying_rows",
			Help:      "Queue rows with at least one failed attempt",
		}),
		queueOldestAge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "oldest_row_age_seconds",
			Help:      "Age of the oldest queued row",
		}),
		dlqSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "entries",
			Help:      "Entries currently in the dead-letter store",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Submission counts one Submit outcome.
func (m *Metrics) Submission(kind domain.SubmitOutcomeKind) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(kind)).Inc()
}

// RowProcessed records one consumer iteration that claimed a row.
func (m *Metrics) RowProcessed(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rowsProcessed.WithLabelValues(result).Inc()
	m.processingTime.Observe(elapsed.Seconds())
}

// DeadLettered counts a row moved to the DLQ.
func (m *Metrics) DeadLettered(reason domain.DeadLetterReason) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(string(reason)).Inc()
}

// TaskTerminal counts a terminal task transition.
func (m *Metrics) TaskTerminal(status domain.TaskStatus) {
	if m == nil {
		return
	}
	m.terminalTasks.WithLabelValues(string(status)).Inc()
}

// HTTPRequest records a served request. route is the router pattern, not the raw path.
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// QueueStats publishes a queue snapshot.
func (m *Metrics) QueueStats(s domain.QueueStats) {
	if m == nil {
		return
	}
	m.queuePending.Set(float64(s.Pending))
	m.queueRetrying.Set(float64(s.Retrying))
	m.queueOldestAge.Set(s.OldestAge.Seconds())
	m.dlqSize.Set(float64(s.DeadLetters))
}
