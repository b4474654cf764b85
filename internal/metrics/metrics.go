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
			Name:    "glaid_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaid_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StoreOperationDuration tracks tree store calls.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glaid_store_operation_duration_seconds",
			Help:    "Tree store operation duration in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation", "collection", "status"},
	)

	// StoreSubscriptionsActive tracks live store observers.
	StoreSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "glaid_store_subscriptions_active",
			Help: "Number of active tree store subscriptions",
		},
	)

	// SwipesTotal tracks recorded swipes.
	SwipesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaid_swipes_total",
			Help: "Total swipes recorded",
		},
		[]string{"direction"},
	)

	// MatchesTotal tracks matches made and dissolved.
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaid_matches_total",
			Help: "Total matches by outcome",
		},
		[]string{"outcome"},
	)

	// MessagesTotal tracks messages sent.
	MessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glaid_messages_total",
			Help: "Total messages sent",
		},
	)

	// ConversationsTotal tracks conversations by lifecycle event.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaid_conversations_total",
			Help: "Total conversations by event",
		},
		[]string{"event"},
	)

	// ReconcileRepairs tracks references fixed by the reconciler.
	ReconcileRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaid_reconcile_repairs_total",
			Help: "References repaired by the reconciliation pass",
		},
		[]string{"kind"},
	)

	// ReconcileRuns tracks reconciliation passes.
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaid_reconcile_runs_total",
			Help: "Reconciliation passes by status",
		},
		[]string{"status"},
	)

	// WSConnectionsActive tracks active WebSocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "glaid_ws_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	// PushNotificationsTotal tracks APNs deliveries.
	PushNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaid_push_notifications_total",
			Help: "Push notifications by kind and status",
		},
		[]string{"kind", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStoreOperation records one tree store call.
func RecordStoreOperation(operation, collection string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperationDuration.WithLabelValues(operation, collection, status).Observe(duration)
}

// IncrementWSConnections increments the active WebSocket connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the active WebSocket connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}
