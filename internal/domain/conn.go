package domain

import "context"

// Conn is a live, outbound-capable client connection.
// Send must not block; implementations queue or fail fast.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close() error
}

// ConnectionRegistry tracks which connections belong to which user.
type ConnectionRegistry interface {
	Register(user UserID, conn Conn)
	Unregister(user UserID, conn Conn)
}

// Broadcaster delivers an event to every connection of its recipient.
type Broadcaster interface {
	Broadcast(ctx context.Context, event Event)
}
