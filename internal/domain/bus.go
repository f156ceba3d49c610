package domain

import "context"

// BusMessage is a single message received from a bus channel.
type BusMessage struct {
	Channel string
	Payload string
}

// Bus opens subscriptions on the message broker.
// Each call establishes a fresh connection; the returned Subscription owns it.
type Bus interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// Subscription is an active set of channel subscriptions.
// Receive blocks until a message arrives, the connection fails or ctx is done.
type Subscription interface {
	Receive(ctx context.Context) (BusMessage, error)
	Close() error
}
