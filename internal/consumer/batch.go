package consumer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gomq-async/internal/mq"
	"gomq-async/internal/types"
)

// ErrDestinationMismatch means a message ended up in a group for another
// exchange. It indicates a bug in grouping, not a broker problem.
var ErrDestinationMismatch = errors.New("bulk publish messages must match the group exchange")

// group is the run of messages in one batch bound for the same exchange.
type group struct {
	destination string
	messages    []types.Message
}

// groupByDestination splits a batch by exchange. Groups come out in order
// of first appearance and keep the batch order inside each group, so the
// groups together hold exactly the messages of the batch.
func groupByDestination(batch []types.Message) []group {
	index := make(map[string]int)
	var groups []group
	for _, msg := range batch {
		i, ok := index[msg.Destination]
		if !ok {
			i = len(groups)
			index[msg.Destination] = i
			groups = append(groups, group{destination: msg.Destination})
		}
		groups[i].messages = append(groups[i].messages, msg)
	}
	return groups
}

func withoutGroup(groups []group, destination string) []group {
	return slices.DeleteFunc(groups, func(g group) bool { return g.destination == destination })
}

func flatten(groups []group) []types.Message {
	var out []types.Message
	for _, g := range groups {
		out = append(out, g.messages...)
	}
	return out
}

// publishAll publishes one group on ch and, in confirm mode, waits for the
// broker to confirm it. On failure it returns the messages whose delivery
// is not confirmed.
func (c *Consumer) publishAll(ctx context.Context, ch mq.PublishChannel, g group) (unconfirmed []types.Message, err error) {
	start := c.clock.Now()
	defer func() {
		c.notifier.MessagePublished(g.destination, len(g.messages), c.clock.Since(start))
	}()

	remaining := slices.Clone(g.messages)
	var potentiallyRetry []types.Message

	for len(remaining) > 0 {
		msg := remaining[0]
		remaining = remaining[1:]

		if err := msg.Validate(); err != nil {
			return slices.Concat([]types.Message{msg}, remaining, potentiallyRetry), fmt.Errorf("bulk publish: %w", err)
		}
		if msg.Destination != g.destination {
			return slices.Concat([]types.Message{msg}, remaining, potentiallyRetry), fmt.Errorf("%w: message %s for %q in group %q",
				ErrDestinationMismatch, msg.ID, msg.Destination, g.destination)
		}

		if err := ch.Publish(ctx, msg); err != nil {
			return slices.Concat([]types.Message{msg}, remaining, potentiallyRetry), err
		}
		potentiallyRetry = append(potentiallyRetry, msg)
	}

	if !ch.UsingConfirms() {
		return nil, nil
	}
	if err := ch.WaitForConfirms(ctx, c.settings.ConfirmTimeout); err != nil {
		return slices.Concat(remaining, potentiallyRetry), fmt.Errorf("wait for confirms on %q: %w", g.destination, err)
	}
	return nil, nil
}
