// Package session runs the lifecycle of one client WebSocket connection:
// handshake, registration, the idle-bounded receive loop and cleanup.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/relay/internal/broadcast"
	"github.com/pscheid92/relay/internal/domain"
	"github.com/pscheid92/relay/internal/metrics"
	"github.com/pscheid92/relay/internal/platform/correlation"
)

const (
	// CloseUnauthorized is sent when the handshake carries no usable user id.
	CloseUnauthorized = 4000

	DefaultIdleTimeout = 5 * time.Minute

	userParam = "user"
)

var welcomeFrame = []byte(`{"type":"system","message":"welcome"}`)

// Termination reasons, used for logs.
const (
	reasonIdle      = "idle timeout"
	reasonPeerClose = "peer closed"
	reasonReadError = "read error"
	reasonSendError = "send error"
	reasonPanic     = "panic"
)

// Config tunes sessions. Zero values fall back to defaults.
type Config struct {
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBufferSize int
	// CheckOrigin overrides the origin policy; nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

// Handler upgrades HTTP requests and serves one session per connection.
type Handler struct {
	registry domain.ConnectionRegistry
	metrics  *metrics.WebSocketMetrics
	upgrader websocket.Upgrader
	cfg      Config
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a session handler that registers admitted connections in registry.
func NewHandler(registry domain.ConnectionRegistry, m *metrics.WebSocketMetrics, cfg Config) *Handler {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = NewCheckOrigin(nil, false)
	}
	return &Handler{
		registry: registry,
		metrics:  m,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// ServeHTTP blocks for the lifetime of the session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, _ := correlation.Ensure(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.SessionsRejected.WithLabelValues("upgrade").Inc()
		slog.DebugContext(ctx, "WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	user, err := domain.ParseUserID(r.URL.Query().Get(userParam))
	if err != nil {
		h.reject(ctx, conn, err)
		return
	}

	h.serve(ctx, conn, user, r.RemoteAddr)
}

func (h *Handler) reject(ctx context.Context, conn *websocket.Conn, cause error) {
	h.metrics.SessionsRejected.WithLabelValues("unauthorized").Inc()
	slog.InfoContext(ctx, "Rejecting connection without valid user id", "remote_addr", conn.RemoteAddr().String(), "error", cause)

	msg := websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeTimeout())); err != nil {
		slog.DebugContext(ctx, "Failed to send unauthorized close frame", "error", err)
	}
	_ = conn.Close()
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, user domain.UserID, remoteAddr string) {
	client := broadcast.NewClient(conn, broadcast.ClientOptions{
		BufferSize:   h.cfg.SendBufferSize,
		WriteTimeout: h.cfg.WriteTimeout,
	})
	start := time.Now()
	reason := reasonPanic

	h.registry.Register(user, client)
	slog.InfoContext(ctx, "Session opened", "user_id", user, "conn_id", client.ID(), "remote_addr", remoteAddr)

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Panic in session", "user_id", user, "conn_id", client.ID(), "panic", r)
		}
		h.registry.Unregister(user, client)
		_ = client.Close()
		h.metrics.SessionDuration.Observe(time.Since(start).Seconds())
		slog.InfoContext(ctx, "Session closed", "user_id", user, "conn_id", client.ID(), "reason", reason)
	}()

	if err := client.Send(welcomeFrame); err != nil {
		reason = reasonSendError
		slog.WarnContext(ctx, "Failed to queue welcome frame", "user_id", user, "error", err)
		return
	}

	reason = h.receive(ctx, conn, client)
}

// receive discards inbound frames until the peer goes away or stays silent
// for longer than the idle timeout. Only data frames reset the timer.
func (h *Handler) receive(ctx context.Context, conn *websocket.Conn, client *broadcast.Client) string {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout)); err != nil {
			return reasonReadError
		}

		if _, _, err := conn.ReadMessage(); err != nil {
			switch {
			case isTimeout(err):
				h.metrics.IdleDisconnects.Inc()
				client.CloseWithReason(websocket.CloseNormalClosure, reasonIdle)
				return reasonIdle
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				return reasonPeerClose
			default:
				slog.DebugContext(ctx, "Session read failed", "conn_id", client.ID(), "error", err)
				return reasonReadError
			}
		}
	}
}

func (h *Handler) writeTimeout() time.Duration {
	if h.cfg.WriteTimeout > 0 {
		return h.cfg.WriteTimeout
	}
	return 5 * time.Second
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
