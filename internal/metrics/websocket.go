package metrics

import "github.com/prometheus/client_golang/prometheus"

// Delivery outcomes.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// WebSocketMetrics holds Prometheus metrics for client connections and fan-out.
type WebSocketMetrics struct {
	ActiveConnections prometheus.Gauge
	RegisteredUsers   prometheus.Gauge
	SessionsRejected  *prometheus.CounterVec
	IdleDisconnects   prometheus.Counter
	Deliveries        *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections.",
		}),
		RegisteredUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "registered_users",
			Help:      "Number of users with at least one registered connection.",
		}),
		SessionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "sessions_rejected_total",
			Help:      "Connections rejected before registration, by reason.",
		}, []string{"reason"}),
		IdleDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "idle_disconnects_total",
			Help:      "Sessions closed because the client stayed silent past the idle timeout.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "deliveries_total",
			Help:      "Frame delivery attempts to individual connections, by outcome.",
		}, []string{"outcome"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "session_duration_seconds",
			Help:      "Lifetime of admitted sessions in seconds.",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 14400},
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.RegisteredUsers, m.SessionsRejected, m.IdleDisconnects, m.Deliveries, m.SessionDuration)
	return m
}
