package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gomq-async/internal/types"
)

// DirectPublisher publishes one message at a time on a short-lived channel.
// It doesn't share state with the batch consumer's channel, so it still
// works when that channel is in a bad state.
type DirectPublisher struct {
	provider       ConnectionProvider
	confirmTimeout time.Duration
}

// NewDirectPublisher creates a Publisher on top of provider.
func NewDirectPublisher(provider ConnectionProvider, confirmTimeout time.Duration) *DirectPublisher {
	return &DirectPublisher{provider: provider, confirmTimeout: confirmTimeout}
}

// Publish implements the Publisher interface.
func (p *DirectPublisher) Publish(ctx context.Context, msg types.Message) (err error) {
	if err := msg.Validate(); err != nil {
		return err
	}

	ch, err := p.provider.CreateChannel(ctx)
	if err != nil {
		return fmt.Errorf("direct publish: %w", err)
	}
	defer func() {
		if cerr := ch.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("channel close: %w", cerr))
		}
	}()

	if err := ch.Publish(ctx, msg); err != nil {
		return err
	}
	if ch.UsingConfirms() {
		return ch.WaitForConfirms(ctx, p.confirmTimeout)
	}
	return nil
}
