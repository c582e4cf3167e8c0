// Package mqtest provides in-memory stand-ins for the broker collaborators
// so the publishing pipeline can be tested without RabbitMQ.
package mqtest

import (
	"context"
	"sync"
	"time"

	"gomq-async/internal/mq"
	"gomq-async/internal/types"
)

// Broker is a scripted ConnectionProvider. Hooks must be set before the
// broker is shared with other goroutines.
type Broker struct {
	// Confirms puts every channel in confirm mode.
	Confirms bool
	// CreateErr, when set, runs on every CreateChannel and may block.
	CreateErr func(ctx context.Context) error
	// PublishErr, when set, decides the outcome of each channel publish.
	PublishErr func(msg types.Message) error
	// ConfirmErr, when set, decides the outcome of each WaitForConfirms.
	ConfirmErr func(pending []types.Message) error

	mu        sync.Mutex
	published []types.Message
	confirmed []types.Message
	opened    int
	closed    int
}

var _ mq.ConnectionProvider = (*Broker)(nil)

func (b *Broker) CreateChannel(ctx context.Context) (mq.PublishChannel, error) {
	if b.CreateErr != nil {
		if err := b.CreateErr(ctx); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	b.opened++
	b.mu.Unlock()
	return &Channel{broker: b}, nil
}

// Published returns every message a channel accepted, in order.
func (b *Broker) Published() []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Message(nil), b.published...)
}

// Confirmed returns messages covered by a successful WaitForConfirms.
func (b *Broker) Confirmed() []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Message(nil), b.confirmed...)
}

// ChannelsOpened returns how many channels were handed out.
func (b *Broker) ChannelsOpened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// ChannelsClosed returns how many channels were closed.
func (b *Broker) ChannelsClosed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Channel is the PublishChannel handed out by Broker.
type Channel struct {
	broker  *Broker
	pending []types.Message
	closed  bool
}

var _ mq.PublishChannel = (*Channel)(nil)

func (c *Channel) Publish(ctx context.Context, msg types.Message) error {
	if c.closed {
		return mq.ErrChannelClosed
	}
	if c.broker.PublishErr != nil {
		if err := c.broker.PublishErr(msg); err != nil {
			return err
		}
	}
	c.pending = append(c.pending, msg)
	c.broker.mu.Lock()
	c.broker.published = append(c.broker.published, msg)
	c.broker.mu.Unlock()
	return nil
}

func (c *Channel) UsingConfirms() bool { return c.broker.Confirms }

func (c *Channel) WaitForConfirms(ctx context.Context, timeout time.Duration) error {
	pending := c.pending
	c.pending = nil
	if c.broker.ConfirmErr != nil {
		if err := c.broker.ConfirmErr(pending); err != nil {
			return err
		}
	}
	c.broker.mu.Lock()
	c.broker.confirmed = append(c.broker.confirmed, pending...)
	c.broker.mu.Unlock()
	return nil
}

func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.broker.mu.Lock()
	c.broker.closed++
	c.broker.mu.Unlock()
	return nil
}

// Publisher is a recording single-message Publisher.
type Publisher struct {
	// Err, when set, decides the outcome of each publish.
	Err func(msg types.Message) error

	mu       sync.Mutex
	attempts []types.Message
}

var _ mq.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, msg types.Message) error {
	p.mu.Lock()
	p.attempts = append(p.attempts, msg)
	p.mu.Unlock()
	if p.Err != nil {
		return p.Err(msg)
	}
	return nil
}

// Attempts returns every message passed to Publish.
func (p *Publisher) Attempts() []types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Message(nil), p.attempts...)
}
