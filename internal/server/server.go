package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/relay/internal/listener"
	"github.com/pscheid92/relay/internal/metrics"
)

const defaultShutdownTimeout = 10 * time.Second

// BusListener is the background consumer whose lifetime the server owns.
type BusListener interface {
	Run(ctx context.Context) error
	State() listener.State
}

// Config holds the server's own settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Limits          Limits
}

type Server struct {
	echo   *echo.Echo
	config Config

	sessions     http.Handler
	listener     BusListener
	limits       *ConnectionLimits
	healthChecks []HealthCheck

	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	startTime time.Time
}

// NewServer wires routes and middleware. healthChecks run on /health/ready
// after the built-in listener check.
func NewServer(cfg Config, sessions http.Handler, bus BusListener, registry *prometheus.Registry, m *metrics.Metrics, healthChecks ...HealthCheck) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		config:    cfg,
		sessions:  sessions,
		listener:  bus,
		registry:  registry,
		metrics:   m,
		startTime: time.Now(),
	}
	if cfg.Limits.Enabled() {
		srv.limits = NewConnectionLimits(cfg.Limits, clockwork.NewRealClock())
	}
	srv.healthChecks = append([]HealthCheck{srv.listenerCheck()}, healthChecks...)

	srv.registerRoutes()

	return srv
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts the bus listener, then accepts connections on ln until ctx is
// cancelled. Shutdown stops accepting, then cancels the listener and waits for
// it. Established WebSocket sessions are left to end on their own.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	listenerCtx, cancelListener := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelListener()

	listenerDone := make(chan error, 1)
	go func() { listenerDone <- s.listener.Run(listenerCtx) }()

	s.echo.Listener = ln
	serveDone := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", ln.Addr().String())
		serveDone <- s.echo.Start("")
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveDone:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("failed to serve: %w", err)
		}
		serveDone <- nil
	case err := <-listenerDone:
		runErr = fmt.Errorf("bus listener exited: %w", err)
		listenerDone <- nil
	}

	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown server: %w", err))
	}
	if err := <-serveDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("failed to serve: %w", err))
	}

	cancelListener()
	if err := <-listenerDone; err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("bus listener: %w", err))
	}

	slog.Info("Server stopped")
	return errors.Join(errs...)
}
