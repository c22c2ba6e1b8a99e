// Package metrics provides Prometheus metrics for the booking and queue core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	BookingsTotal       prometheus.Counter
	BookingConflicts    prometheus.Counter
	CancellationsTotal  prometheus.Counter
	TokensIssued        prometheus.Counter
	TokenRetries        prometheus.Counter
	CheckInDuration     prometheus.Histogram
	QueueActions        *prometheus.CounterVec
	ProjectionWrites    *prometheus.CounterVec
	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BookingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookings_total",
			Help: "Appointments booked",
		}),
		BookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_conflicts_total",
			Help: "Bookings rejected because the slot was already taken",
		}),
		CancellationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cancellations_total",
			Help: "Appointments cancelled",
		}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokens_issued_total",
			Help: "Queue tokens issued by check-in or walk-in registration",
		}),
		TokenRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "token_issue_retries_total",
			Help: "Token issuance attempts retried after a lock or uniqueness conflict",
		}),
		CheckInDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkin_duration_seconds",
			Help:    "Check-in duration including the token lock",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		QueueActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_actions_total",
			Help: "Doctor queue actions by action and outcome",
		}, []string{"action", "outcome"}),
		ProjectionWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "projection_writes_total",
			Help: "Queue projection writes by kind and outcome",
		}, []string{"kind", "outcome"}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notifications handed to the dispatcher",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Notifications the dispatcher failed to deliver",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.BookingsTotal,
		m.BookingConflicts,
		m.CancellationsTotal,
		m.TokensIssued,
		m.TokenRetries,
		m.CheckInDuration,
		m.QueueActions,
		m.ProjectionWrites,
		m.NotificationsSent,
		m.NotificationsFailed,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
