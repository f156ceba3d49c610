package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultBufferSize   = 16
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// ClientOptions tunes the outbound side of a connection.
type ClientOptions struct {
	BufferSize   int
	WriteTimeout time.Duration
}

// Client owns the write side of a WebSocket connection.
// Frames are queued by Send and written by a single goroutine.
type Client struct {
	id           string
	connection   *websocket.Conn
	writeTimeout time.Duration
	sendChannel  chan []byte
	doneChannel  chan struct{}
	exited       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewClient starts the writer goroutine for connection.
func NewClient(connection *websocket.Conn, opts ClientOptions) *Client {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	c := &Client{
		id:           uuid.NewString(),
		connection:   connection,
		writeTimeout: opts.WriteTimeout,
		sendChannel:  make(chan []byte, opts.BufferSize),
		doneChannel:  make(chan struct{}),
		exited:       make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// ID returns the connection identifier used in logs.
func (c *Client) ID() string {
	return c.id
}

// Send queues a frame without blocking.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.doneChannel:
		return ErrClientClosed
	case <-c.exited:
		return ErrClientClosed
	default:
	}

	select {
	case c.sendChannel <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. Queued frames are discarded.
func (c *Client) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.doneChannel)
		err = c.connection.Close()
	})
	c.wg.Wait()
	return err
}

// CloseWithReason stops the writer, then sends a close frame before closing the socket.
func (c *Client) CloseWithReason(code int, reason string) {
	c.stopOnce.Do(func() {
		close(c.doneChannel)

		// The writer must be gone before we touch the socket again.
		c.wg.Wait()

		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.connection.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		_ = c.connection.Close()
	})
	c.wg.Wait()
}

func (c *Client) run() {
	defer c.wg.Done()
	defer close(c.exited)

	for {
		select {
		case msg := <-c.sendChannel:
			_ = c.connection.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Closing the socket also fails the session's pending read.
				_ = c.connection.Close()
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}
