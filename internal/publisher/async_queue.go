// Package publisher is the producer-facing side of the pipeline. Push
// enqueues a message without touching the network; a supervised consumer
// publishes it in the background.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gomq-async/internal/consumer"
	"gomq-async/internal/fifo"
	"gomq-async/internal/metrics"
	"gomq-async/internal/types"

	"github.com/benbjohnson/clock"
)

const (
	DefaultMaxQueueSize     = 1_000_000
	DefaultWaitPollInterval = 10 * time.Millisecond
)

// ErrQueueFull is returned by Push under the raise strategy.
var ErrQueueFull = errors.New("async queue is full")

// Settings configure one AsyncQueue.
type Settings struct {
	MaxQueueSize       int
	Strategy           BackPressureStrategy
	SupervisorInterval time.Duration
	WaitPollInterval   time.Duration
	Consumer           consumer.Settings
}

func (s Settings) withDefaults() Settings {
	if s.MaxQueueSize == 0 {
		s.MaxQueueSize = DefaultMaxQueueSize
	}
	if s.Strategy == "" {
		s.Strategy = Raise
	}
	if s.SupervisorInterval <= 0 {
		s.SupervisorInterval = consumer.DefaultSupervisorInterval
	}
	if s.WaitPollInterval <= 0 {
		s.WaitPollInterval = DefaultWaitPollInterval
	}
	return s
}

// Validate reports configuration errors. It runs before anything starts.
func (s Settings) Validate() error {
	if s.MaxQueueSize <= 0 {
		return fmt.Errorf("max queue size must be positive, got %d", s.MaxQueueSize)
	}
	if _, err := ParseBackPressureStrategy(string(s.Strategy)); err != nil {
		return err
	}
	return nil
}

// Deps are handed to every consumer the queue's supervisor starts. Queue
// is always created by the AsyncQueue and is ignored here.
type Deps = consumer.Deps

// AsyncQueue buffers messages in memory and publishes them in the
// background through a supervised consumer.
type AsyncQueue struct {
	settings   Settings
	queue      *fifo.Queue[types.Message]
	supervisor *consumer.Supervisor
	notifier   metrics.Notifier
	clock      clock.Clock
}

// NewAsyncQueue validates settings and starts the supervisor, which runs
// until Shutdown or until ctx is done.
func NewAsyncQueue(ctx context.Context, settings Settings, deps Deps) (*AsyncQueue, error) {
	q, err := newAsyncQueue(settings, deps)
	if err != nil {
		return nil, err
	}
	q.supervisor.Start(ctx)
	slog.Info("async queue started",
		"maxQueueSize", q.settings.MaxQueueSize,
		"strategy", q.settings.Strategy.String(),
		"batchSize", q.settings.Consumer.BatchSize)
	return q, nil
}

func newAsyncQueue(settings Settings, deps Deps) (*AsyncQueue, error) {
	settings = settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("async queue: %w", err)
	}
	// Push compares against the canonical values
	settings.Strategy, _ = ParseBackPressureStrategy(string(settings.Strategy))

	deps.Queue = fifo.New[types.Message]()
	if deps.Notifier == nil {
		deps.Notifier = metrics.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	return &AsyncQueue{
		settings:   settings,
		queue:      deps.Queue,
		supervisor: consumer.NewSupervisor(settings.SupervisorInterval, settings.Consumer, deps),
		notifier:   deps.Notifier,
		clock:      deps.Clock,
	}, nil
}

// Push enqueues msg, applying the back-pressure strategy when the queue
// already holds MaxQueueSize messages. ctx only bounds the wait strategy.
// Invalid messages are rejected here rather than by the consumer.
//
// The limit binds producers only: a batch requeued after a network failure
// goes back even when that takes the queue past MaxQueueSize.
func (q *AsyncQueue) Push(ctx context.Context, msg types.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if q.queue.PushBelow(msg, q.settings.MaxQueueSize) {
		return nil
	}

	switch q.settings.Strategy {
	case Drop:
		q.notifier.MessageDropped()
		slog.Debug("async queue full, message dropped", "destination", msg.Destination)
		return nil
	case Wait:
		return q.waitAndPush(ctx, msg)
	default:
		q.notifier.MessageDropped()
		return fmt.Errorf("%w: %d messages queued", ErrQueueFull, q.queue.Len())
	}
}

// waitAndPush polls until msg fits under the limit.
func (q *AsyncQueue) waitAndPush(ctx context.Context, msg types.Message) error {
	start := q.clock.Now()
	ticker := q.clock.Ticker(q.settings.WaitPollInterval)
	defer ticker.Stop()

	for !q.queue.PushBelow(msg, q.settings.MaxQueueSize) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	q.notifier.WaitForAsyncQueue(q.clock.Since(start))
	return nil
}

// Publish builds a message and pushes it.
func (q *AsyncQueue) Publish(ctx context.Context, destination, routingKey string, payload []byte, options map[string]any) error {
	return q.Push(ctx, types.NewMessage(destination, routingKey, payload, options))
}

// Size is the number of messages not yet published. It includes the batch
// the consumer currently has out of the queue.
func (q *AsyncQueue) Size() int {
	n := q.queue.Len()
	if cur := q.supervisor.Current(); cur != nil {
		n = max(n, cur.SampledQueueSize())
	}
	return n
}

// ConsumerAlive reports whether a consumer is currently draining the queue.
func (q *AsyncQueue) ConsumerAlive() bool {
	cur := q.supervisor.Current()
	return cur != nil && cur.Alive()
}

// Shutdown waits for the queue to drain, then stops the supervisor and
// its consumer. When ctx ends first the remaining messages are abandoned
// and ctx.Err() is returned.
func (q *AsyncQueue) Shutdown(ctx context.Context) error {
	defer q.supervisor.Stop()

	ticker := q.clock.Ticker(q.settings.WaitPollInterval)
	defer ticker.Stop()

	// a batch popped just before a poll is only visible in the consumer's
	// sample afterwards, so require two drained polls in a row
	for streak := 0; streak < 2; {
		select {
		case <-ctx.Done():
			slog.Warn("async queue shutdown timed out", "remaining", q.Size())
			return ctx.Err()
		case <-ticker.C:
		}
		if q.drained() {
			streak++
		} else {
			streak = 0
		}
	}
	slog.Info("async queue drained")
	return nil
}

// drained is true once nothing is resident and the consumer has finished
// the batch it sampled.
func (q *AsyncQueue) drained() bool {
	if q.queue.Len() > 0 {
		return false
	}
	cur := q.supervisor.Current()
	return cur == nil || cur.SampledQueueSize() == 0
}
