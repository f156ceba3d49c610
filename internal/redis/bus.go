package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pscheid92/relay/internal/domain"
	"github.com/pscheid92/relay/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Bus opens Redis pub/sub subscriptions. Every Subscribe call dials a fresh
// client that is owned, and closed, by the returned subscription.
type Bus struct {
	opts    *redis.Options
	metrics *metrics.RedisMetrics
}

var _ domain.Bus = (*Bus)(nil)

// NewBus creates a bus for the given Redis URL. m may be nil.
func NewBus(redisURL string, m *metrics.RedisMetrics) (*Bus, error) {
	opts, err := ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Bus{opts: opts, metrics: m}, nil
}

// Subscribe connects and subscribes to channels, waiting for the server's
// confirmation so connectivity failures surface here rather than on first Receive.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (domain.Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("subscribe: no channels")
	}

	opts := *b.opts
	rdb := newRedisClient(&opts, b.metrics)
	pubsub := rdb.Subscribe(ctx, channels...)

	if _, err := pubsub.Receive(ctx); err != nil {
		err = fmt.Errorf("subscribe to %v: %w", channels, err)
		return nil, errors.Join(err, pubsub.Close(), rdb.Close())
	}

	return &subscription{rdb: rdb, pubsub: pubsub}, nil
}

type subscription struct {
	rdb    *redis.Client
	pubsub *redis.PubSub

	closeOnce sync.Once
	closeErr  error
}

// Receive blocks for the next channel message. go-redis does not interrupt a
// blocked read on context cancellation, so the pubsub is closed when ctx ends.
func (s *subscription) Receive(ctx context.Context) (domain.BusMessage, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.BusMessage{}, ctxErr
		}
		return domain.BusMessage{}, fmt.Errorf("receive: %w", err)
	}
	return domain.BusMessage{Channel: msg.Channel, Payload: msg.Payload}, nil
}

// Close unsubscribes and releases the dedicated connection. Safe to call more than once.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.pubsub.Close(), s.rdb.Close())
	})
	return s.closeErr
}
