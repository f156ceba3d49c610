package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" default:"development"`
	Host     string `env:"HOST" default:"0.0.0.0"`
	Port     string `env:"PORT" default:"8765"`
	RedisURL string `env:"REDIS_URL" default:"redis://localhost:6379"`

	IdleTimeout      time.Duration `env:"IDLE_TIMEOUT" default:"5m"`
	ReconnectBackoff time.Duration `env:"RECONNECT_BACKOFF" default:"5s"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	SendBufferSize   int           `env:"SEND_BUFFER_SIZE" default:"16"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Admission limits. Zero disables the corresponding check.
	MaxConnections      int     `env:"MAX_CONNECTIONS" default:"0"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"0"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" default:"0"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"10"`

	// Comma-separated browser origins allowed to open sessions. Empty allows all.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// IsDevelopment reports whether the relay runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Origins splits AllowedOrigins into its non-empty entries.
func (c *Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}

	u, err := url.Parse(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("REDIS_URL is invalid: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("REDIS_URL must use the redis:// or rediss:// scheme, got %q", u.Scheme)
	}

	durations := map[string]time.Duration{
		"IDLE_TIMEOUT":      cfg.IdleTimeout,
		"RECONNECT_BACKOFF": cfg.ReconnectBackoff,
		"WRITE_TIMEOUT":     cfg.WriteTimeout,
		"SHUTDOWN_TIMEOUT":  cfg.ShutdownTimeout,
	}
	for name, value := range durations {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.SendBufferSize < 1 {
		return errors.New("SEND_BUFFER_SIZE must be at least 1")
	}

	if cfg.MaxConnections < 0 || cfg.MaxConnectionsPerIP < 0 || cfg.ConnectionRate < 0 {
		return errors.New("connection limits must not be negative")
	}
	if cfg.ConnectionRate > 0 && cfg.ConnectionBurst < 1 {
		return errors.New("CONNECTION_BURST must be at least 1 when CONNECTION_RATE is set")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return nil
}
