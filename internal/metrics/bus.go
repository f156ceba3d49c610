package metrics

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons for bus messages that never reach the registry.
const (
	DropUnboundChannel   = "unbound_channel"
	DropUnparseable      = "unparseable"
	DropMissingRecipient = "missing_recipient"
	DropPanic            = "panic"
)

// BusMetrics holds Prometheus metrics for the bus listener.
type BusMetrics struct {
	MessagesReceived *prometheus.CounterVec
	PayloadsRepaired prometheus.Counter
	EventsDropped    *prometheus.CounterVec
	EventsDispatched *prometheus.CounterVec
	Reconnects       prometheus.Counter
	ListenerState    prometheus.Gauge
}

// NewBusMetrics creates and registers bus listener metrics on the given registry.
func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "messages_received_total",
			Help:      "Messages received from the bus, by channel.",
		}, []string{"channel"}),
		PayloadsRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "payloads_repaired_total",
			Help:      "Payloads that needed textual repair before parsing.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_dropped_total",
			Help:      "Messages dropped before broadcast, by reason.",
		}, []string{"reason"}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_dispatched_total",
			Help:      "Events handed to the registry, by event type.",
		}, []string{"type"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "reconnects_total",
			Help:      "Listener reconnect cycles after a connectivity failure.",
		}),
		ListenerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "listener_state",
			Help:      "Current listener state (0=disconnected, 1=connecting, 2=subscribed, 3=cleanup, 4=terminated).",
		}),
	}

	reg.MustRegister(m.MessagesReceived, m.PayloadsRepaired, m.EventsDropped, m.EventsDispatched, m.Reconnects, m.ListenerState)
	return m
}
