package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gomq-async/internal/types"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelOptions controls how publish channels are set up.
type ChannelOptions struct {
	// Confirms puts new channels in publisher-confirm mode.
	Confirms bool
	// DeclareExchanges declares every destination as a durable topic
	// exchange the first time a channel publishes to it.
	DeclareExchanges bool
}

// Channel is a PublishChannel backed by an AMQP channel.
type Channel struct {
	ch       *amqp.Channel
	opts     ChannelOptions
	declared map[string]struct{}
	// deferred holds confirmations for messages published since the last
	// WaitForConfirms.
	deferred []*amqp.DeferredConfirmation
}

// NewChannel opens a dedicated publish channel on conn.
func NewChannel(conn *amqp.Connection, opts ChannelOptions) (*Channel, error) {
	if conn == nil || conn.IsClosed() {
		return nil, &NetworkError{Op: "open channel", Err: amqp.ErrClosed}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel for publisher: %w", err)
	}

	if opts.Confirms {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
	}

	return &Channel{ch: ch, opts: opts, declared: make(map[string]struct{})}, nil
}

// Publish publishes msg to its destination exchange with its routing key.
func (c *Channel) Publish(ctx context.Context, msg types.Message) error {
	if c == nil || c.ch == nil || c.ch.IsClosed() {
		return ErrChannelClosed
	}

	if err := c.declareExchange(msg.Destination); err != nil {
		return err
	}

	pub, mandatory, err := Publishing(msg)
	if err != nil {
		return err
	}

	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, msg.Destination, msg.RoutingKey, mandatory, false, pub)
	if err != nil {
		return fmt.Errorf("publish to exchange %q: %w", msg.Destination, err)
	}
	// dc is nil when the channel is not in confirm mode
	if dc != nil {
		c.deferred = append(c.deferred, dc)
	}
	return nil
}

func (c *Channel) UsingConfirms() bool {
	return c != nil && c.opts.Confirms
}

// WaitForConfirms waits for every outstanding confirmation. A timeout
// yields ErrConfirmTimeout; any nack yields ErrPublishNacked.
func (c *Channel) WaitForConfirms(ctx context.Context, timeout time.Duration) error {
	if !c.UsingConfirms() {
		return nil
	}
	pending := c.deferred
	c.deferred = nil

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	nacked := 0
	for _, dc := range pending {
		acked, err := dc.WaitContext(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s: %w", ErrConfirmTimeout, timeout, err)
			}
			return err
		}
		if !acked {
			nacked++
		}
	}

	// confirmations are released as nacks when the channel goes away
	if nacked > 0 && c.ch.IsClosed() {
		return &NetworkError{Op: "wait for confirms", Err: amqp.ErrClosed}
	}
	if nacked > 0 {
		return fmt.Errorf("%w: %d of %d", ErrPublishNacked, nacked, len(pending))
	}
	return nil
}

func (c *Channel) declareExchange(name string) error {
	if !c.opts.DeclareExchanges {
		return nil
	}
	if _, ok := c.declared[name]; ok {
		return nil
	}
	if err := c.ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", name, err)
	}
	c.declared[name] = struct{}{}
	return nil
}

// Close closes the underlying channel.
func (c *Channel) Close() error {
	if c == nil || c.ch == nil {
		return nil
	}
	if c.ch.IsClosed() {
		return nil
	}
	return c.ch.Close()
}
