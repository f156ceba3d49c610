package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pscheid92/relay/internal/domain"
	"github.com/pscheid92/relay/internal/metrics"
)

type userConns map[domain.Conn]struct{}

// Registry maps users to their live connections.
// Safe for concurrent use; sends happen outside the lock.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.UserID]userConns
	metrics *metrics.WebSocketMetrics
}

var (
	_ domain.ConnectionRegistry = (*Registry)(nil)
	_ domain.Broadcaster        = (*Registry)(nil)
)

// NewRegistry creates an empty registry.
func NewRegistry(m *metrics.WebSocketMetrics) *Registry {
	return &Registry{
		clients: make(map[domain.UserID]userConns),
		metrics: m,
	}
}

// Register adds conn to the user's set. Registering the same conn twice is a no-op.
func (r *Registry) Register(user domain.UserID, conn domain.Conn) {
	r.mu.Lock()
	conns, exists := r.clients[user]
	if !exists {
		conns = make(userConns)
		r.clients[user] = conns
	}
	if _, dup := conns[conn]; dup {
		r.mu.Unlock()
		return
	}
	conns[conn] = struct{}{}
	total := len(conns)
	r.metrics.ActiveConnections.Inc()
	r.metrics.RegisteredUsers.Set(float64(len(r.clients)))
	r.mu.Unlock()

	slog.Debug("Connection registered", "user_id", user, "conn_id", conn.ID(), "total_connections", total)
}

// Unregister removes conn from the user's set and drops the entry once it is empty.
// Unknown connections are ignored.
func (r *Registry) Unregister(user domain.UserID, conn domain.Conn) {
	r.mu.Lock()
	conns, exists := r.clients[user]
	if !exists {
		r.mu.Unlock()
		return
	}
	if _, known := conns[conn]; !known {
		r.mu.Unlock()
		return
	}
	delete(conns, conn)
	remaining := len(conns)
	if remaining == 0 {
		delete(r.clients, user)
	}
	r.metrics.ActiveConnections.Dec()
	r.metrics.RegisteredUsers.Set(float64(len(r.clients)))
	r.mu.Unlock()

	if remaining == 0 {
		slog.Debug("Last connection unregistered", "user_id", user, "conn_id", conn.ID())
	} else {
		slog.Debug("Connection unregistered", "user_id", user, "conn_id", conn.ID(), "remaining_connections", remaining)
	}
}

// Broadcast delivers event to every connection of its recipient.
// An offline recipient is not an error. A failed delivery never stops delivery
// to the remaining connections; the failed connection is evicted in the background.
func (r *Registry) Broadcast(ctx context.Context, event domain.Event) {
	conns := r.snapshot(event.Recipient)
	if len(conns) == 0 {
		slog.DebugContext(ctx, "Recipient has no connections", "user_id", event.Recipient, "type", event.Type)
		return
	}

	frame, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal event", "user_id", event.Recipient, "type", event.Type, "error", err)
		return
	}

	for _, conn := range conns {
		if err := deliver(conn, frame); err != nil {
			r.metrics.Deliveries.WithLabelValues(metrics.DeliveryFailed).Inc()
			slog.WarnContext(ctx, "Delivery failed, evicting connection",
				"user_id", event.Recipient,
				"conn_id", conn.ID(),
				"error", err,
			)
			go r.evict(event.Recipient, conn)
			continue
		}
		r.metrics.Deliveries.WithLabelValues(metrics.DeliverySent).Inc()
	}
}

// ConnectionCount returns the number of live connections for user.
func (r *Registry) ConnectionCount(user domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients[user])
}

// Stats returns the number of users and connections currently registered.
func (r *Registry) Stats() (users, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conns := range r.clients {
		connections += len(conns)
	}
	return len(r.clients), connections
}

func (r *Registry) snapshot(user domain.UserID) []domain.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.clients[user]
	if len(conns) == 0 {
		return nil
	}
	out := make([]domain.Conn, 0, len(conns))
	for conn := range conns {
		out = append(out, conn)
	}
	return out
}

func (r *Registry) evict(user domain.UserID, conn domain.Conn) {
	r.Unregister(user, conn)
	if err := conn.Close(); err != nil {
		slog.Debug("Close after failed delivery", "user_id", user, "conn_id", conn.ID(), "error", err)
	}
}

func deliver(conn domain.Conn, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return conn.Send(frame)
}
