// Package server exposes the relay over HTTP.
//
// It serves the WebSocket endpoint, health and version endpoints and Prometheus
// metrics with Echo, and owns the ordered startup and shutdown of the HTTP
// server and the bus listener.
package server
