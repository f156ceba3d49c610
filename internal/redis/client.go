package redis

import (
	"context"
	"fmt"

	"github.com/pscheid92/relay/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with convenience methods.
type Client struct {
	rdb *redis.Client
}

// ParseURL parses a redis:// or rediss:// URL into client options.
func ParseURL(redisURL string) (*redis.Options, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return opts, nil
}

// NewClient creates a new Redis client from a URL (e.g., "redis://localhost:6379").
// Commands run behind a circuit breaker so a dead broker fails fast.
// m may be nil to disable metrics.
func NewClient(redisURL string, m *metrics.RedisMetrics) (*Client, error) {
	opts, err := ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := newRedisClient(opts, m)
	rdb.AddHook(NewCircuitBreakerHook(DefaultCircuitBreakerSettings(m)))
	return &Client{rdb: rdb}, nil
}

func newRedisClient(opts *redis.Options, m *metrics.RedisMetrics) *redis.Client {
	rdb := redis.NewClient(opts)
	if m != nil {
		rdb.AddHook(NewMetricsHook(m))
	}
	return rdb
}

// Ping verifies the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish sends payload to channel and returns the number of subscribers that received it.
func (c *Client) Publish(ctx context.Context, channel, payload string) (int64, error) {
	n, err := c.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	return n, nil
}

// Subscribers returns the subscriber count for each of the given channels.
func (c *Client) Subscribers(ctx context.Context, channels ...string) (map[string]int64, error) {
	counts, err := c.rdb.PubSubNumSub(ctx, channels...).Result()
	if err != nil {
		return nil, fmt.Errorf("count subscribers: %w", err)
	}
	return counts, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
