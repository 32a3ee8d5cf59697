package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all club-events metrics
const namespace = "clubevents"

// Registry is the global Prometheus registry for all metrics
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Ledger metrics
var (
	// LedgerOperations counts ledger calls by operation and outcome.
	// outcome is "ok", the business error code (e.g. "event_full") or "error".
	LedgerOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Total number of registration ledger operations",
		},
		[]string{"op", "outcome"},
	)

	// LedgerOperationDuration records how long each ledger operation took,
	// including time spent waiting for the per-event lock.
	LedgerOperationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_operation_duration_seconds",
			Help:      "Registration ledger operation latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"op"},
	)
)

// Queue metrics
var (
	// RegistrationEventsPublished counts downstream publish attempts.
	RegistrationEventsPublished = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_events_published_total",
			Help:      "Total number of registration change events handed to the broker",
		},
		[]string{"type", "status"}, // status: success|error
	)

	// NotificationsConsumed counts messages handled by the notifier.
	NotificationsConsumed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_consumed_total",
			Help:      "Total number of registration events processed by the notifier",
		},
		[]string{"status"}, // status: ack|nack
	)
)
