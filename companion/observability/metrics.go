// Package observability provides Prometheus metrics, OpenTelemetry tracing,
// and logger setup for the wristlink daemon.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/caddiehq/wristlink/syncbus"
)

// =============================================================================
// LINK METRICS
// =============================================================================

var (
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wristlink_sends_total",
			Help: "Total outbound envelopes by path and outcome",
		},
		[]string{"type", "path", "status"}, // status: ok, error
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wristlink_request_duration_seconds",
			Help:    "Interactive request round-trip duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"type"},
	)

	pendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wristlink_pending_requests",
			Help: "In-flight interactive requests awaiting a reply",
		},
	)
)

// =============================================================================
// STATE BROADCAST METRICS
// =============================================================================

var (
	stateBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wristlink_state_broadcasts_total",
			Help: "Total state broadcast attempts by outcome",
		},
		[]string{"status"}, // status: sent, deduped, error
	)
)

// =============================================================================
// INBOUND METRICS
// =============================================================================

var (
	inboundEnvelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wristlink_inbound_envelopes_total",
			Help: "Total inbound envelopes by type and outcome",
		},
		[]string{"type", "status"}, // status: handled, dropped, decode_error
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordSend records an outbound delivery attempt.
func RecordSend(msgType, path string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sendsTotal.WithLabelValues(msgType, path, status).Inc()
}

// RecordRequestDuration records a completed interactive round trip.
func RecordRequestDuration(msgType string, durationMS int) {
	requestDurationSeconds.WithLabelValues(msgType).Observe(float64(durationMS) / 1000.0)
}

// RecordStateBroadcast records a state broadcast attempt.
func RecordStateBroadcast(deduped bool, err error) {
	switch {
	case err != nil:
		stateBroadcastsTotal.WithLabelValues("error").Inc()
	case deduped:
		stateBroadcastsTotal.WithLabelValues("deduped").Inc()
	default:
		stateBroadcastsTotal.WithLabelValues("sent").Inc()
	}
}

// RecordInbound records an inbound envelope outcome.
// status: handled, dropped, decode_error.
func RecordInbound(msgType, status string) {
	inboundEnvelopesTotal.WithLabelValues(msgType, status).Inc()
}

// SetPendingRequests updates the in-flight request gauge.
func SetPendingRequests(n int) {
	pendingRequests.Set(float64(n))
}

// =============================================================================
// DISPATCHER MIDDLEWARE
// =============================================================================

// MetricsMiddleware feeds dispatcher traffic into the Prometheus collectors.
// pendingFn reads the live in-flight count; pass Dispatcher.PendingCount.
type MetricsMiddleware struct {
	pendingFn func() int
}

// NewMetricsMiddleware creates a MetricsMiddleware.
func NewMetricsMiddleware(pendingFn func() int) *MetricsMiddleware {
	return &MetricsMiddleware{pendingFn: pendingFn}
}

// BeforeSend updates the pending gauge ahead of the routing decision.
func (m *MetricsMiddleware) BeforeSend(env syncbus.Envelope) {
	if m.pendingFn != nil {
		SetPendingRequests(m.pendingFn())
	}
}

// AfterSend records the delivery attempt and refreshes the gauge.
func (m *MetricsMiddleware) AfterSend(env syncbus.Envelope, path string, err error) {
	RecordSend(env.Type, path, err)
	if m.pendingFn != nil {
		SetPendingRequests(m.pendingFn())
	}
}

// OnStateBroadcast records the broadcast outcome.
func (m *MetricsMiddleware) OnStateBroadcast(deduped bool, err error) {
	RecordStateBroadcast(deduped, err)
}

var _ syncbus.Middleware = (*MetricsMiddleware)(nil)
