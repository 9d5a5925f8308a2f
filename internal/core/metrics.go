package core

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "codecollab"

// Metrics holds the Prometheus collectors for the hub. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	sessionsCreated  prometheus.Counter
	sessionsDeleted  *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	connections      prometheus.Gauge
	participants     prometheus.Gauge
	eventsTotal      *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	cleanupScheduled prometheus.Counter
}

// NewMetrics registers the collectors on reg. Use a fresh registry per hub
// in tests; registering twice on the same registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),
		sessionsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_deleted_total",
			Help:      "Total number of sessions deleted by reason",
		}, []string{"reason"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_sessions",
			Help:      "Number of sessions held in memory",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Number of attached WebSocket connections",
		}),
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "participants",
			Help:      "Number of connections joined to a session",
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Inbound events by type and outcome",
		}, []string{"type", "status"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Outbound messages by type and outcome",
		}, []string{"type", "status"}),
		cleanupScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cleanup_scheduled_total",
			Help:      "Deferred deletions scheduled for empty sessions",
		}),
	}
}

func (m *Metrics) sessionCreated(total int) {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.activeSessions.Set(float64(total))
}

func (m *Metrics) sessionDeleted(reason string, total int) {
	if m == nil {
		return
	}
	m.sessionsDeleted.WithLabelValues(reason).Inc()
	m.activeSessions.Set(float64(total))
}

func (m *Metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) setParticipants(n int) {
	if m == nil {
		return
	}
	m.participants.Set(float64(n))
}

func (m *Metrics) event(msgType string, err error) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(msgType, eventStatus(err)).Inc()
}

func (m *Metrics) delivery(msgType string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.deliveries.WithLabelValues(msgType, status).Inc()
}

func (m *Metrics) cleanup() {
	if m == nil {
		return
	}
	m.cleanupScheduled.Inc()
}

// eventStatus keeps the status label low-cardinality.
func eventStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMalformedEvent), errors.Is(err, ErrUnknownEvent):
		return "malformed"
	default:
		return "rejected"
	}
}
