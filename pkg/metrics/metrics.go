package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jwalitptl/labcase-api/pkg/errors"
)

// Metrics holds all application metrics
type Metrics struct {
	// Workflow metrics
	Transitions       *prometheus.CounterVec
	TransitionLatency *prometheus.HistogramVec
	CascadedCases     prometheus.Counter

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
	RequestTotal    *prometheus.CounterVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxQueueSize         prometheus.Gauge
	OutboxRetries           *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec

	// Notification metrics
	NotificationsSent *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "case_transitions_total",
			Help:      "Case workflow operations by action and outcome",
		}, []string{"action", "outcome"}),
		TransitionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "case_transition_duration_seconds",
			Help:      "Time spent applying a case workflow operation",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"action"}),
		CascadedCases: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_removal_cascaded_cases_total",
			Help:      "Cases reconciled after a stage template was force-removed",
		}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
		}, []string{"method", "path", "status"}),
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxQueueSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_queue_size",
			Help:      "Current number of events in the outbox queue",
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),

		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Delivery notifications by outcome",
		}, []string{"outcome"}),
	}
}

// Outcome labels a result for the counters above.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.Reason != "" {
		return strings.ToLower(appErr.Reason)
	}
	return "error"
}
