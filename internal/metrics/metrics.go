// Package metrics defines the relay's Prometheus metrics.
//
// Metrics are grouped per area and registered on an explicit registry, so tests
// can build isolated instances without colliding on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics bundles every metric group.
type Metrics struct {
	WebSocket *WebSocketMetrics
	Bus       *BusMetrics
	Redis     *RedisMetrics
	HTTP      *HTTPMetrics
}

// New creates and registers all metric groups on reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		WebSocket: NewWebSocketMetrics(reg),
		Bus:       NewBusMetrics(reg),
		Redis:     NewRedisMetrics(reg),
		HTTP:      NewHTTPMetrics(reg),
	}
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
