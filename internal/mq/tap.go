package mq

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TapOptions describe what a Tap listens to.
type TapOptions struct {
	Exchange string
	// Pattern is the topic binding key; "#" matches everything.
	Pattern string
	// DeclareExchange declares Exchange as a durable topic exchange first,
	// the same way publish channels do.
	DeclareExchange bool
	Prefetch        int
}

// Tap reads back what the publisher sends through a server-named,
// exclusive queue that disappears with the tap. Used by the tail tool.
type Tap struct {
	ch    *amqp.Channel
	queue string
}

// OpenTap opens a dedicated channel on conn, declares the tap queue and
// binds it to opts.Exchange.
func OpenTap(conn *amqp.Connection, opts TapOptions) (*Tap, error) {
	if conn == nil || conn.IsClosed() {
		return nil, &NetworkError{Op: "open tap", Err: amqp.ErrClosed}
	}
	if opts.Exchange == "" {
		return nil, errors.New("tap: exchange is required")
	}
	if opts.Pattern == "" {
		opts.Pattern = "#"
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("tap: open channel: %w", err)
	}
	t := &Tap{ch: ch}
	if err := t.setup(opts); err != nil {
		return nil, errors.Join(err, ch.Close())
	}
	return t, nil
}

func (t *Tap) setup(opts TapOptions) error {
	if opts.Prefetch > 0 {
		if err := t.ch.Qos(opts.Prefetch, 0, false); err != nil {
			return fmt.Errorf("tap: set prefetch: %w", err)
		}
	}
	if opts.DeclareExchange {
		if err := t.ch.ExchangeDeclare(opts.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("tap: declare exchange %q: %w", opts.Exchange, err)
		}
	}

	q, err := t.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("tap: declare queue: %w", err)
	}
	if err := t.ch.QueueBind(q.Name, opts.Pattern, opts.Exchange, false, nil); err != nil {
		return fmt.Errorf("tap: bind %s to %q with %q: %w", q.Name, opts.Exchange, opts.Pattern, err)
	}
	t.queue = q.Name
	return nil
}

// Queue is the server-assigned name of the tap queue.
func (t *Tap) Queue() string { return t.queue }

// Deliveries starts an auto-ack consumer on the tap queue. The channel
// closes when the tap or its connection closes.
func (t *Tap) Deliveries() (<-chan amqp.Delivery, error) {
	return t.ch.Consume(t.queue, "", true, true, false, false, nil)
}

func (t *Tap) Close() error {
	if t == nil || t.ch == nil || t.ch.IsClosed() {
		return nil
	}
	return t.ch.Close()
}
