package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the collaboration core's operational metrics.
//
// Tracked:
//   - Live websocket connections per instance
//   - Event delivery volume, split by local fan-out vs cross-instance relay
//   - Reminder scan duration and notification outcomes
//   - Coordination store degradation (failed operations)
//   - Task mutation outcomes by action
type Metrics struct {
	// ActiveConnections is the number of open websocket connections
	// on this instance.
	ActiveConnections prometheus.Gauge

	// EventsDelivered counts events written to client connections.
	// Labels: event, path (local|relay)
	EventsDelivered *prometheus.CounterVec

	// EventsDropped counts events that could not be enqueued to a
	// connection (slow consumer).
	// Labels: event
	EventsDropped *prometheus.CounterVec

	// TaskMutations counts bridge operations.
	// Labels: action (create|update|delete|reorder), status (success|error)
	TaskMutations *prometheus.CounterVec

	// ReminderScanDuration measures one dispatcher scan in seconds.
	ReminderScanDuration prometheus.Histogram

	// Notifications counts dispatched notifications.
	// Labels: type, status (sent|deduped|error)
	Notifications *prometheus.CounterVec

	// CoordinationErrors counts failed coordination store operations.
	// Labels: op
	CoordinationErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the
// given registerer. Call once at startup; metrics are served by the
// gateway's /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskhub_connections_active",
			Help: "Number of open websocket connections on this instance",
		}),
		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_events_delivered_total",
			Help: "Events delivered to client connections by event name and path",
		}, []string{"event", "path"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_events_dropped_total",
			Help: "Events dropped because a connection send buffer was full",
		}, []string{"event"}),
		TaskMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_task_mutations_total",
			Help: "Task mutations applied through the event bridge",
		}, []string{"action", "status"}),
		ReminderScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskhub_reminder_scan_duration_seconds",
			Help:    "Duration of one reminder scan iteration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_notifications_total",
			Help: "Notifications dispatched by type and outcome",
		}, []string{"type", "status"}),
		CoordinationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_coordination_errors_total",
			Help: "Failed coordination store operations by operation name",
		}, []string{"op"}),
	}
}
