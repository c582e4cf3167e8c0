package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gomq-async/internal/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connector manages the lifecycle of a RabbitMQ connection and hands out
// publish channels on it. A closed connection is re-dialed on the next
// CreateChannel.
type Connector struct {
	url      string
	opts     ChannelOptions
	notifier metrics.Notifier

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewConnector creates a new RabbitMQ connector.
func NewConnector(url string, opts ChannelOptions, notifier metrics.Notifier) *Connector {
	if notifier == nil {
		notifier = metrics.Nop{}
	}
	return &Connector{url: url, opts: opts, notifier: notifier}
}

// Connect establishes a RabbitMQ connection with retries and backoff
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Connector) connectLocked(ctx context.Context) error {
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	const attempts = 5
	backoff := 200 * time.Millisecond

	var err error
	for i := range attempts {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Info("connector: attempting to connect to RabbitMQ", "attempt", i+1)
		var conn *amqp.Connection
		conn, err = amqp.Dial(c.url)
		if err == nil {
			slog.Info("connector: successfully connected to RabbitMQ")
			c.conn = conn
			go c.watchBlocked(conn)
			return nil
		}

		slog.Warn("connector: failed to dial RabbitMQ", "error", err, "attempt", i+1)
		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return &NetworkError{
		Op:  fmt.Sprintf("connect to RabbitMQ after %d attempts", attempts),
		Err: err,
	}
}

// watchBlocked forwards connection.blocked / connection.unblocked until the
// connection closes.
func (c *Connector) watchBlocked(conn *amqp.Connection) {
	for b := range conn.NotifyBlocked(make(chan amqp.Blocking, 4)) {
		if b.Active {
			c.notifier.ConnectionBlocked(b.Reason)
		} else {
			c.notifier.ConnectionUnblocked()
		}
	}
}

// CreateChannel implements ConnectionProvider.
func (c *Connector) CreateChannel(ctx context.Context) (PublishChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	ch, err := NewChannel(c.conn, c.opts)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Close gracefully shuts down the connection.
func (c *Connector) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	slog.Info("connector: closing RabbitMQ connection")
	return c.conn.Close()
}

// NotifyClose registers a listener for connection close events.
func (c *Connector) NotifyClose(ch chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.NotifyClose(ch)
}

// Connection returns the underlying amqp.Connection.
// It's exposed for tools that need their own consuming channels.
func (c *Connector) Connection() (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil, errors.New("connection is not open")
	}
	return c.conn, nil
}
