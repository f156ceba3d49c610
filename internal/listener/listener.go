// Package listener consumes domain events from the message bus and hands them
// to the connection registry.
//
// The listener owns a single subscription at a time. Any connectivity failure
// tears it down, waits a fixed backoff and subscribes again, forever, until the
// run context is cancelled.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/relay/internal/domain"
	"github.com/pscheid92/relay/internal/event"
	"github.com/pscheid92/relay/internal/metrics"
)

const DefaultBackoff = 5 * time.Second

// State is the listener's position in its connect/subscribe cycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateCleanup
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateCleanup:
		return "cleanup"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config tunes a Listener. Zero values fall back to defaults.
type Config struct {
	Bindings domain.ChannelBinding
	Backoff  time.Duration
	Clock    clockwork.Clock
}

// Listener subscribes to every bound channel and broadcasts decoded events.
type Listener struct {
	bus         domain.Bus
	broadcaster domain.Broadcaster
	bindings    domain.ChannelBinding
	backoff     time.Duration
	clock       clockwork.Clock
	metrics     *metrics.BusMetrics

	state atomic.Int32
}

// New creates a listener in the Disconnected state.
func New(bus domain.Bus, broadcaster domain.Broadcaster, m *metrics.BusMetrics, cfg Config) *Listener {
	if cfg.Bindings == nil {
		cfg.Bindings = domain.DefaultChannelBinding()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	l := &Listener{
		bus:         bus,
		broadcaster: broadcaster,
		bindings:    cfg.Bindings,
		backoff:     cfg.Backoff,
		clock:       cfg.Clock,
		metrics:     m,
	}
	l.setState(StateDisconnected)
	return l
}

// State returns the current state. Safe for concurrent use.
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
	l.metrics.ListenerState.Set(float64(s))
}

// Run drives the subscribe/receive/reconnect loop until ctx is cancelled and
// returns the context's error. Connectivity failures are never returned.
func (l *Listener) Run(ctx context.Context) error {
	defer l.setState(StateTerminated)

	channels := l.bindings.Channels()
	for {
		err := l.cycle(ctx, channels)
		if ctxErr := ctx.Err(); ctxErr != nil {
			slog.Info("Bus listener stopped")
			return ctxErr
		}

		l.metrics.Reconnects.Inc()
		slog.Warn("Bus connection lost, reconnecting", "error", err, "backoff", l.backoff)

		if err := l.wait(ctx); err != nil {
			slog.Info("Bus listener stopped during backoff")
			return err
		}
	}
}

// cycle runs one subscription from connect to cleanup.
func (l *Listener) cycle(ctx context.Context, channels []string) error {
	l.setState(StateConnecting)

	sub, err := l.bus.Subscribe(ctx, channels...)
	if err != nil {
		l.setState(StateDisconnected)
		return fmt.Errorf("subscribe: %w", err)
	}
	defer l.cleanup(sub)

	l.setState(StateSubscribed)
	slog.Info("Bus listener subscribed", "channels", channels)

	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		l.dispatch(ctx, msg)
	}
}

func (l *Listener) cleanup(sub domain.Subscription) {
	l.setState(StateCleanup)
	if err := sub.Close(); err != nil {
		slog.Debug("Error closing bus subscription", "error", err)
	}
	l.setState(StateDisconnected)
}

func (l *Listener) wait(ctx context.Context) error {
	timer := l.clock.NewTimer(l.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

// dispatch turns one bus message into a broadcast. Bad messages are dropped and
// never end the subscription.
func (l *Listener) dispatch(ctx context.Context, msg domain.BusMessage) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.EventsDropped.WithLabelValues(metrics.DropPanic).Inc()
			slog.Error("Panic while dispatching bus message", "channel", msg.Channel, "panic", r)
		}
	}()

	l.metrics.MessagesReceived.WithLabelValues(msg.Channel).Inc()

	eventType, ok := l.bindings.Resolve(msg.Channel)
	if !ok {
		l.metrics.EventsDropped.WithLabelValues(metrics.DropUnboundChannel).Inc()
		slog.Debug("Ignoring message on unbound channel", "channel", msg.Channel, "error", domain.ErrUnboundChannel)
		return
	}

	result, err := event.Normalize(msg.Payload)
	if err != nil {
		l.metrics.EventsDropped.WithLabelValues(metrics.DropUnparseable).Inc()
		slog.Warn("Dropping unparseable payload", "channel", msg.Channel, "payload", msg.Payload, "error", err)
		return
	}
	if result.Repaired != "" {
		l.metrics.PayloadsRepaired.Inc()
		slog.Debug("Repaired malformed payload", "channel", msg.Channel, "repaired", result.Repaired)
	}

	evt, err := domain.NewEvent(eventType, result.Fields)
	if err != nil {
		l.metrics.EventsDropped.WithLabelValues(metrics.DropMissingRecipient).Inc()
		slog.Warn("Dropping event without recipient", "channel", msg.Channel, "payload", msg.Payload, "error", err)
		return
	}

	l.broadcaster.Broadcast(ctx, evt)
	l.metrics.EventsDispatched.WithLabelValues(string(eventType)).Inc()
}
