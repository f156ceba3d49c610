package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	testRedisURL   string
	redisContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redisContainer, err = tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()
	if err := redisContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
	}
	os.Exit(code)
}

func setupIntegration(t *testing.T) (*Bus, *Client) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	bus, err := NewBus(testRedisURL, newTestMetrics(t))
	require.NoError(t, err)

	client, err := NewClient(testRedisURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return bus, client
}

func TestBus_PublishAndReceive(t *testing.T) {
	bus, client := setupIntegration(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := bus.Subscribe(ctx, "chat", "friend-request")
	require.NoError(t, err)
	defer sub.Close()

	n, err := client.Publish(ctx, "chat", `{to:42, msg:hello}`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msg, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chat", msg.Channel)
	assert.Equal(t, `{to:42, msg:hello}`, msg.Payload)
}

func TestBus_ReceiveReturnsOnCancel(t *testing.T) {
	bus, _ := setupIntegration(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := bus.Subscribe(ctx, "chat")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sub.Receive(ctx)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Receive did not return after cancellation")
	}

	assert.NotPanics(t, func() { _ = sub.Close() })
}

func TestClient_PingAndSubscribers(t *testing.T) {
	bus, client := setupIntegration(t)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	sub, err := bus.Subscribe(ctx, "chat")
	require.NoError(t, err)
	defer sub.Close()

	counts, err := client.Subscribers(ctx, "chat", "friend-request")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["chat"])
	assert.Equal(t, int64(0), counts["friend-request"])
}
