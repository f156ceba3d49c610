package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/relay/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// CircuitBreakerHook implements redis.Hook and rejects commands while the
// breaker is open. It is installed on the command client only; the pub/sub
// subscriber reconnects on its own schedule.
type CircuitBreakerHook struct {
	cb *gobreaker.CircuitBreaker
}

var _ redis.Hook = (*CircuitBreakerHook)(nil)

// ErrCircuitOpen is returned for commands rejected by an open breaker.
var ErrCircuitOpen = errors.New("redis circuit breaker open")

// DefaultCircuitBreakerSettings trips at a 60% failure rate over at least 5
// commands in a 10s window and lets one command through after 15s. m may be nil.
func DefaultCircuitBreakerSettings(m *metrics.RedisMetrics) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if m != nil {
				m.CircuitBreakerStateChanges.WithLabelValues(to.String()).Inc()
				m.CircuitBreakerState.Set(stateToFloat(to))
			}
		},
	}
}

// NewCircuitBreakerHook creates a hook around a breaker built from settings.
func NewCircuitBreakerHook(settings gobreaker.Settings) *CircuitBreakerHook {
	return &CircuitBreakerHook{cb: gobreaker.NewCircuitBreaker(settings)}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// DialHook passes through; dial failures surface as command failures.
func (h *CircuitBreakerHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

// ProcessHook runs each command through the breaker.
func (h *CircuitBreakerHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		return h.execute(func() error { return next(ctx, cmd) })
	}
}

// ProcessPipelineHook runs a pipeline through the breaker as one request.
func (h *CircuitBreakerHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		return h.execute(func() error { return next(ctx, cmds) })
	}
}

// execute counts redis.Nil and caller cancellation as successes.
func (h *CircuitBreakerHook) execute(call func() error) error {
	var callErr error
	_, err := h.cb.Execute(func() (interface{}, error) {
		callErr = call()
		if callErr == nil || errors.Is(callErr, redis.Nil) || errors.Is(callErr, context.Canceled) {
			return nil, nil
		}
		return nil, callErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return callErr
}

// State returns the breaker's current state.
func (h *CircuitBreakerHook) State() gobreaker.State {
	return h.cb.State()
}

// Counts returns the breaker's counters for the current window.
func (h *CircuitBreakerHook) Counts() gobreaker.Counts {
	return h.cb.Counts()
}
