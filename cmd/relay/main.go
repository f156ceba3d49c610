package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/relay/internal/broadcast"
	"github.com/pscheid92/relay/internal/listener"
	"github.com/pscheid92/relay/internal/metrics"
	"github.com/pscheid92/relay/internal/platform/config"
	"github.com/pscheid92/relay/internal/platform/logging"
	"github.com/pscheid92/relay/internal/platform/version"
	"github.com/pscheid92/relay/internal/redis"
	"github.com/pscheid92/relay/internal/server"
	"github.com/pscheid92/relay/internal/session"
	"golang.org/x/sync/errgroup"
)

const statsInterval = time.Minute

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func main() {
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Relay starting", "env", cfg.AppEnv, "addr", cfg.Addr(), "build", version.Get())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Relay stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Relay stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	promRegistry := metrics.NewRegistry()
	m := metrics.New(promRegistry)

	bus, err := redis.NewBus(cfg.RedisURL, m.Redis)
	if err != nil {
		return err
	}
	redisClient, err := redis.NewClient(cfg.RedisURL, m.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx); err != nil {
		slog.Warn("Redis not reachable at startup, listener will keep retrying", "error", err)
	}
	cancel()

	registry := broadcast.NewRegistry(m.WebSocket)

	busListener := listener.New(bus, registry, m.Bus, listener.Config{
		Backoff: cfg.ReconnectBackoff,
	})

	sessions := session.NewHandler(registry, m.WebSocket, session.Config{
		IdleTimeout:    cfg.IdleTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		SendBufferSize: cfg.SendBufferSize,
		CheckOrigin:    session.NewCheckOrigin(cfg.Origins(), cfg.IsDevelopment()),
	})

	srv := server.NewServer(server.Config{
		Addr:            cfg.Addr(),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Limits: server.Limits{
			MaxConnections:      cfg.MaxConnections,
			MaxConnectionsPerIP: cfg.MaxConnectionsPerIP,
			ConnectionRate:      cfg.ConnectionRate,
			ConnectionBurst:     cfg.ConnectionBurst,
		},
	}, sessions, busListener, promRegistry, m, server.HealthCheck{Name: "redis", Check: redisClient.Ping})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		logStats(gctx, clockwork.NewRealClock(), registry, busListener)
		return nil
	})

	return g.Wait()
}

func logStats(ctx context.Context, clock clockwork.Clock, registry *broadcast.Registry, l *listener.Listener) {
	ticker := clock.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			users, conns := registry.Stats()
			slog.Debug("Relay stats", "users", users, "connections", conns, "listener_state", l.State().String())
		}
	}
}
