package mq

import (
	"context"
	"time"

	"gomq-async/internal/types"
)

// PublishChannel is one broker channel owned by a single goroutine at a time.
type PublishChannel interface {
	// Publish hands one message to the broker. It does not wait for a
	// confirm; see WaitForConfirms.
	Publish(ctx context.Context, msg types.Message) error

	// UsingConfirms reports whether the channel is in publisher-confirm mode.
	UsingConfirms() bool

	// WaitForConfirms blocks until every message published since the last
	// call is confirmed. A nil error means all were acked.
	WaitForConfirms(ctx context.Context, timeout time.Duration) error

	Close() error
}

// ConnectionProvider opens publish channels on a broker connection.
type ConnectionProvider interface {
	CreateChannel(ctx context.Context) (PublishChannel, error)
}

// Publisher is the single-message publish path. It's used when a batch
// can't be published as a whole and messages are retried one by one.
type Publisher interface {
	Publish(ctx context.Context, msg types.Message) error
}
