// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smsinbox_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsinbox_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// WebhookEventsTotal counts gateway callbacks by event type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsinbox_webhook_events_total",
			Help: "Gateway webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	// DispatchTotal counts outbound sends by outcome.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsinbox_dispatch_total",
			Help: "Outbound dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	// GatewayLatency tracks gateway send latency.
	GatewayLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smsinbox_gateway_latency_seconds",
			Help:    "Gateway send latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// TransitionsTotal counts status reconciliation results.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsinbox_status_transitions_total",
			Help: "Status transitions by target status and result",
		},
		[]string{"status", "result"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smsinbox_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// SubscribersEvicted counts realtime subscribers dropped for falling behind.
	SubscribersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smsinbox_realtime_subscribers_evicted_total",
			Help: "Realtime subscribers evicted because their buffer was full",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordWebhookEvent records the outcome of one gateway callback.
func RecordWebhookEvent(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordDispatch records an outbound send outcome and its gateway latency.
func RecordDispatch(outcome string, latencySeconds float64) {
	DispatchTotal.WithLabelValues(outcome).Inc()
	GatewayLatency.Observe(latencySeconds)
}

// RecordTransition records a reconciliation result.
func RecordTransition(status, result string) {
	TransitionsTotal.WithLabelValues(status, result).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
