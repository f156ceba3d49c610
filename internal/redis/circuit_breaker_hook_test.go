package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingProcess(context.Context, redis.Cmder) error {
	return errors.New("connection refused")
}

func TestCircuitBreakerHook_StaysClosedOnSuccess(t *testing.T) {
	hook := NewCircuitBreakerHook(DefaultCircuitBreakerSettings(nil))
	ctx := context.Background()

	process := hook.ProcessHook(func(context.Context, redis.Cmder) error { return nil })
	for i := 0; i < 10; i++ {
		require.NoError(t, process(ctx, redis.NewStatusCmd(ctx, "ping")))
	}

	assert.Equal(t, gobreaker.StateClosed, hook.State())
	assert.Equal(t, uint32(10), hook.Counts().TotalSuccesses)
}

func TestCircuitBreakerHook_NilAndCancelAreNotFailures(t *testing.T) {
	hook := NewCircuitBreakerHook(DefaultCircuitBreakerSettings(nil))
	ctx := context.Background()

	miss := hook.ProcessHook(func(context.Context, redis.Cmder) error { return redis.Nil })
	cancelled := hook.ProcessHook(func(context.Context, redis.Cmder) error { return context.Canceled })
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, miss(ctx, redis.NewStringCmd(ctx, "get", "k")), redis.Nil)
		assert.ErrorIs(t, cancelled(ctx, redis.NewStatusCmd(ctx, "ping")), context.Canceled)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.State())
	assert.Zero(t, hook.Counts().TotalFailures)
}

func TestCircuitBreakerHook_TransientFailuresKeepItClosed(t *testing.T) {
	hook := NewCircuitBreakerHook(DefaultCircuitBreakerSettings(nil))
	ctx := context.Background()

	process := hook.ProcessHook(failingProcess)
	for i := 0; i < 2; i++ {
		err := process(ctx, redis.NewStatusCmd(ctx, "ping"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.State())
}

func TestCircuitBreakerHook_OpensAndFailsFast(t *testing.T) {
	m := newTestMetrics(t)
	hook := NewCircuitBreakerHook(DefaultCircuitBreakerSettings(m))
	ctx := context.Background()

	process := hook.ProcessHook(failingProcess)
	for i := 0; i < 5; i++ {
		_ = process(ctx, redis.NewStatusCmd(ctx, "ping"))
	}
	require.Equal(t, gobreaker.StateOpen, hook.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerStateChanges.WithLabelValues("open")))

	called := false
	publish := hook.ProcessHook(func(context.Context, redis.Cmder) error {
		called = true
		return nil
	})
	err := publish(ctx, redis.NewIntCmd(ctx, "publish", "chat", "{}"))

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "Redis should not be called when circuit is open")
}

func TestCircuitBreakerHook_PipelineCountsAsOneRequest(t *testing.T) {
	hook := NewCircuitBreakerHook(DefaultCircuitBreakerSettings(nil))
	ctx := context.Background()

	pipe := hook.ProcessPipelineHook(func(context.Context, []redis.Cmder) error { return nil })
	require.NoError(t, pipe(ctx, []redis.Cmder{redis.NewStatusCmd(ctx, "ping"), redis.NewStatusCmd(ctx, "ping")}))

	assert.Equal(t, uint32(1), hook.Counts().Requests)
}

func TestCircuitBreakerHook_RecoversThroughHalfOpen(t *testing.T) {
	settings := DefaultCircuitBreakerSettings(nil)
	settings.Timeout = 50 * time.Millisecond
	hook := NewCircuitBreakerHook(settings)
	ctx := context.Background()

	failing := hook.ProcessHook(failingProcess)
	for i := 0; i < 5; i++ {
		_ = failing(ctx, redis.NewStatusCmd(ctx, "ping"))
	}
	require.Equal(t, gobreaker.StateOpen, hook.State())

	require.Eventually(t, func() bool { return hook.State() == gobreaker.StateHalfOpen }, time.Second, 10*time.Millisecond)

	healthy := hook.ProcessHook(func(context.Context, redis.Cmder) error { return nil })
	require.NoError(t, healthy(ctx, redis.NewStatusCmd(ctx, "ping")))
	assert.Equal(t, gobreaker.StateClosed, hook.State())
}
