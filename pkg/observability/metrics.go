// Package observability provides metrics and tracing for client sessions.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
)

// SessionMetrics records the activity of one or more sessions into
// Prometheus collectors. Pass it to a session with client.WithMetrics.
type SessionMetrics struct {
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec

	serverRequests *prometheus.CounterVec
	notifications  *prometheus.CounterVec

	connectionState *prometheus.GaugeVec
	pendingCalls    prometheus.Gauge
}

// NewSessionMetrics creates the collectors and registers them with
// reg. Pass prometheus.DefaultRegisterer for the process-wide
// registry, or a fresh registry in tests.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Outbound requests by method and outcome.",
		}, []string{"method", "outcome"}),

		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcp",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Outbound request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		serverRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp",
			Subsystem: "client",
			Name:      "server_requests_total",
			Help:      "Server-initiated requests by method.",
		}, []string{"method"}),

		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp",
			Subsystem: "client",
			Name:      "notifications_total",
			Help:      "Notifications by method and direction.",
		}, []string{"method", "direction"}),

		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcp",
			Subsystem: "client",
			Name:      "connection_state",
			Help:      "Set to 1 for the current session state, 0 otherwise.",
		}, []string{"state"}),

		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcp",
			Subsystem: "client",
			Name:      "pending_calls",
			Help:      "Calls awaiting a response.",
		}),
	}

	reg.MustRegister(
		m.calls,
		m.callDuration,
		m.serverRequests,
		m.notifications,
		m.connectionState,
		m.pendingCalls,
	)
	return m
}

// RecordCall records one completed outbound request.
func (m *SessionMetrics) RecordCall(method string, duration time.Duration, err error) {
	m.calls.WithLabelValues(method, callOutcome(err)).Inc()
	m.callDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordServerRequest records one server-initiated request.
func (m *SessionMetrics) RecordServerRequest(method string) {
	m.serverRequests.WithLabelValues(method).Inc()
}

// RecordNotification records one notification. Direction is "inbound"
// or "outbound".
func (m *SessionMetrics) RecordNotification(method, direction string) {
	m.notifications.WithLabelValues(method, direction).Inc()
}

// SetConnectionState marks the given state current.
func (m *SessionMetrics) SetConnectionState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

// SetPendingCalls records the size of the pending-call table.
func (m *SessionMetrics) SetPendingCalls(n int) {
	m.pendingCalls.Set(float64(n))
}

var sessionStates = []string{
	"idle", "connecting", "initializing", "ready", "closing", "closed",
}

func callOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		return string(mcpErr.Category())
	}
	return "error"
}
