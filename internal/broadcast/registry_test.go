package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pscheid92/relay/internal/domain"
	"github.com/pscheid92/relay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records frames and can be told to fail or panic on Send.
type fakeConn struct {
	id      string
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	panics  bool
	closed  int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	if c.panics {
		panic("boom")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, string(f))
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestRegistry(t *testing.T) (*Registry, *metrics.WebSocketMetrics) {
	t.Helper()
	m := metrics.NewWebSocketMetrics(prometheus.NewRegistry())
	return NewRegistry(m), m
}

func chatEvent(t *testing.T, to domain.UserID, msg string) domain.Event {
	t.Helper()
	fields := domain.NewFields()
	require.NoError(t, json.Unmarshal([]byte(fmt.Sprintf(`{"to":%d,"msg":%q}`, to, msg)), fields))
	event, err := domain.NewEvent(domain.EventChat, fields)
	require.NoError(t, err)
	return event
}

func TestRegistry_RegisterUnregisterLeavesNoEntry(t *testing.T) {
	registry, m := newTestRegistry(t)
	conn := newFakeConn("a")

	registry.Register(42, conn)
	assert.Equal(t, 1, registry.ConnectionCount(42))

	registry.Unregister(42, conn)
	assert.Equal(t, 0, registry.ConnectionCount(42))

	users, conns := registry.Stats()
	assert.Equal(t, 0, users)
	assert.Equal(t, 0, conns)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RegisteredUsers))

	registry.mu.RLock()
	_, exists := registry.clients[42]
	registry.mu.RUnlock()
	assert.False(t, exists, "empty sets must be removed")
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	registry, m := newTestRegistry(t)
	conn := newFakeConn("a")

	registry.Register(42, conn)
	registry.Register(42, conn)

	assert.Equal(t, 1, registry.ConnectionCount(42))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
}

func TestRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	registry, m := newTestRegistry(t)
	known := newFakeConn("known")
	registry.Register(42, known)

	registry.Unregister(42, newFakeConn("stranger"))
	registry.Unregister(7, known)

	assert.Equal(t, 1, registry.ConnectionCount(42))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
}

func TestRegistry_MultipleConnectionsPerUser(t *testing.T) {
	registry, _ := newTestRegistry(t)
	phone := newFakeConn("phone")
	laptop := newFakeConn("laptop")

	registry.Register(42, phone)
	registry.Register(42, laptop)
	registry.Register(7, newFakeConn("other"))

	users, conns := registry.Stats()
	assert.Equal(t, 2, users)
	assert.Equal(t, 3, conns)

	registry.Unregister(42, phone)
	assert.Equal(t, 1, registry.ConnectionCount(42))
}

func TestRegistry_BroadcastToOfflineUserIsNoop(t *testing.T) {
	registry, m := newTestRegistry(t)
	other := newFakeConn("other")
	registry.Register(7, other)

	assert.NotPanics(t, func() {
		registry.Broadcast(context.Background(), chatEvent(t, 42, "hi"))
	})
	assert.Empty(t, other.received())
	assert.Equal(t, 0, testutil.CollectAndCount(m.Deliveries))
}

func TestRegistry_BroadcastDeliversToEveryConnection(t *testing.T) {
	registry, m := newTestRegistry(t)
	conns := []*fakeConn{newFakeConn("a"), newFakeConn("b"), newFakeConn("c")}
	for _, c := range conns {
		registry.Register(42, c)
	}

	registry.Broadcast(context.Background(), chatEvent(t, 42, "hi"))

	for _, c := range conns {
		assert.Equal(t, []string{`{"type":"chat","to":42,"msg":"hi"}`}, c.received(), c.id)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(metrics.DeliverySent)))
}

func TestRegistry_BroadcastIsolatesFailures(t *testing.T) {
	registry, m := newTestRegistry(t)
	healthy1 := newFakeConn("healthy-1")
	broken := newFakeConn("broken")
	broken.sendErr = errors.New("connection reset")
	panicky := newFakeConn("panicky")
	panicky.panics = true
	healthy2 := newFakeConn("healthy-2")

	for _, c := range []*fakeConn{healthy1, broken, panicky, healthy2} {
		registry.Register(42, c)
	}

	require.NotPanics(t, func() {
		registry.Broadcast(context.Background(), chatEvent(t, 42, "hi"))
	})

	assert.Len(t, healthy1.received(), 1)
	assert.Len(t, healthy2.received(), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(metrics.DeliveryFailed)))

	// Failed connections are evicted and closed in the background.
	assert.Eventually(t, func() bool {
		return registry.ConnectionCount(42) == 2 && broken.closeCount() == 1 && panicky.closeCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, healthy1.closeCount())
}

func TestRegistry_ConcurrentMutationDuringBroadcast(t *testing.T) {
	registry, _ := newTestRegistry(t)
	stable := newFakeConn("stable")
	registry.Register(42, stable)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("churn-%d", i))
			registry.Register(42, c)
			registry.Unregister(42, c)
		}()
	}

	for i := 0; i < 50; i++ {
		registry.Broadcast(context.Background(), chatEvent(t, 42, "hi"))
	}
	wg.Wait()

	assert.Len(t, stable.received(), 50)
	assert.Equal(t, 1, registry.ConnectionCount(42))
}
