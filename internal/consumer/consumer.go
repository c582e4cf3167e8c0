// Package consumer drains the async queue and publishes its messages.
//
// A Consumer owns one goroutine and one broker channel. It batches messages
// by exchange, requeues a batch in place after network failures, and on any
// other failure reports the batch, retries it message by message, and
// exits. The Supervisor notices the exit and starts a replacement.
//
// Delivery is at-least-once: when a later group in a batch fails with a
// network error the whole batch is requeued, including groups that were
// already published.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gomq-async/internal/fifo"
	"gomq-async/internal/metrics"
	"gomq-async/internal/mq"
	"gomq-async/internal/types"

	"github.com/benbjohnson/clock"
)

const (
	DefaultBatchSize               = 50
	DefaultNetworkRecoveryInterval = 100 * time.Millisecond
)

// ErrConsumerPanic wraps a panic recovered while publishing a batch.
var ErrConsumerPanic = errors.New("consumer panicked")

// Settings tune the publish loop.
type Settings struct {
	BatchSize               int
	ConfirmTimeout          time.Duration
	NetworkRecoveryInterval time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.NetworkRecoveryInterval <= 0 {
		s.NetworkRecoveryInterval = DefaultNetworkRecoveryInterval
	}
	return s
}

// Deps are the collaborators shared by every consumer of one queue.
type Deps struct {
	Queue    *fifo.Queue[types.Message]
	Provider mq.ConnectionProvider
	// Publisher is the single-message path used when a batch fails.
	// Defaults to a DirectPublisher on Provider.
	Publisher mq.Publisher
	Handler   ErrorHandler
	Notifier  metrics.Notifier
	Clock     clock.Clock
}

func (d Deps) withDefaults(s Settings) Deps {
	if d.Publisher == nil {
		d.Publisher = mq.NewDirectPublisher(d.Provider, s.ConfirmTimeout)
	}
	if d.Handler == nil {
		d.Handler = LogErrorHandler{}
	}
	if d.Notifier == nil {
		d.Notifier = metrics.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return d
}

// Consumer publishes batches from the queue on its own goroutine.
type Consumer struct {
	id        int
	settings  Settings
	queue     *fifo.Queue[types.Message]
	provider  mq.ConnectionProvider
	publisher mq.Publisher
	handler   ErrorHandler
	notifier  metrics.Notifier
	clock     clock.Clock

	// channel is only touched by the run goroutine.
	channel mq.PublishChannel

	sampled       atomic.Int64
	heartbeats    atomic.Uint64
	lastHeartbeat atomic.Int64

	mu        sync.Mutex
	cancel    context.CancelFunc
	startOnce sync.Once
	done      chan struct{}
	err       error
}

// New creates a consumer bound to deps.Queue. It does nothing until Start.
func New(id int, settings Settings, deps Deps) *Consumer {
	settings = settings.withDefaults()
	deps = deps.withDefaults(settings)
	c := &Consumer{
		id:        id,
		settings:  settings,
		queue:     deps.Queue,
		provider:  deps.Provider,
		publisher: deps.Publisher,
		handler:   deps.Handler,
		notifier:  deps.Notifier,
		clock:     deps.Clock,
		done:      make(chan struct{}),
	}
	c.sampled.Store(int64(c.queue.Len()))
	return c
}

// Start launches the publish loop. Calling it more than once, or after
// Kill, does nothing.
func (c *Consumer) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		go c.run(ctx)
	})
}

// Kill stops the publish loop. The in-flight iteration, if any, finishes
// first. Safe to call on a dead or never-started consumer.
func (c *Consumer) Kill() {
	c.startOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Alive reports whether the publish loop is running.
func (c *Consumer) Alive() bool {
	c.mu.Lock()
	started := c.cancel != nil
	c.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed when the publish loop has exited.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the publish loop, or nil while it is
// running or when it was killed.
func (c *Consumer) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Consumer) ID() int { return c.id }

// SampledQueueSize is the queue depth seen just before the current batch
// was popped.
func (c *Consumer) SampledQueueSize() int { return int(c.sampled.Load()) }

// Heartbeats counts fully published batches.
func (c *Consumer) Heartbeats() uint64 { return c.heartbeats.Load() }

// LastHeartbeat returns when the last batch was fully published.
func (c *Consumer) LastHeartbeat() time.Time {
	n := c.lastHeartbeat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	defer c.closeChannel()

	slog.Info("consumer started", "consumer", c.id)
	for {
		err := c.iterate(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			slog.Info("consumer exiting (context done)", "consumer", c.id)
			return
		}
		c.err = err
		slog.Error("consumer terminated", "consumer", c.id, "error", err)
		return
	}
}

// iterate runs one sample/pop/publish cycle. A non-nil error ends the loop.
func (c *Consumer) iterate(ctx context.Context) error {
	// sample before popping so Size() still counts the batch while it is out
	c.sampled.Store(int64(c.queue.Len()))

	batch, err := c.queue.PopUpTo(ctx, c.settings.BatchSize)
	if err != nil {
		return err
	}
	// the pop may have blocked on an empty queue; count what it took
	c.sampled.Store(int64(max(c.queue.Len()+len(batch), int(c.sampled.Load()))))

	pending, err := c.publishBatch(ctx, batch)
	switch {
	case err == nil:
		c.heartbeat()
		return nil
	case ctx.Err() != nil:
		// killed mid-batch: hand the batch to the next consumer untouched
		c.queue.Concat(pending...)
		return ctx.Err()
	case mq.IsNetworkError(err):
		c.recoverNetwork(ctx, pending, err)
		return nil
	default:
		return c.degrade(ctx, pending, err)
	}
}

// publishBatch publishes every group of batch. On failure it returns the
// working set to requeue or degrade, which always holds the whole batch.
func (c *Consumer) publishBatch(ctx context.Context, batch []types.Message) (pending []types.Message, err error) {
	groups := groupByDestination(batch)
	working := make([]group, len(groups))
	copy(working, groups)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrConsumerPanic, r)
		}
		if err != nil {
			pending = flatten(working)
		}
	}()

	ch, err := c.ensureChannel(ctx)
	if err != nil {
		return nil, err
	}

	for _, g := range groups {
		err := func() error {
			working = withoutGroup(working, g.destination)
			defer func() { working = append(working, g) }()

			unconfirmed, err := c.publishAll(ctx, ch, g)
			if err != nil {
				slog.Warn("consumer: group publish failed",
					"consumer", c.id,
					"exchange", g.destination,
					"messages", len(g.messages),
					"unconfirmed", len(unconfirmed),
					"error", err)
			}
			return err
		}()
		if err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (c *Consumer) ensureChannel(ctx context.Context) (mq.PublishChannel, error) {
	if c.channel != nil {
		return c.channel, nil
	}
	ch, err := c.provider.CreateChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create publish channel: %w", err)
	}
	c.channel = ch
	return ch, nil
}

func (c *Consumer) closeChannel() {
	if c.channel == nil {
		return
	}
	if err := c.channel.Close(); err != nil {
		slog.Debug("consumer: channel close failed", "consumer", c.id, "error", err)
	}
	c.channel = nil
}

// recoverNetwork waits for the broker to come back, then puts the whole
// batch back at the tail of the queue.
func (c *Consumer) recoverNetwork(ctx context.Context, pending []types.Message, err error) {
	c.notifier.PublishFailed(metrics.ClassNetwork)
	slog.Warn("consumer: network failure, requeueing batch",
		"consumer", c.id,
		"messages", len(pending),
		"retryIn", c.settings.NetworkRecoveryInterval.String(),
		"error", err)

	c.closeChannel()

	select {
	case <-ctx.Done():
	case <-c.clock.After(c.settings.NetworkRecoveryInterval):
	}
	c.queue.Concat(pending...)
}

// degrade reports the failed batch, retries each message on its own and
// returns the original error so the consumer exits. When the consumer is
// killed part way, the messages not yet published go back to the queue.
func (c *Consumer) degrade(ctx context.Context, pending []types.Message, err error) error {
	c.notifier.PublishFailed(metrics.ClassUnknown)
	safeHandle(c.handler, err, ErrorContext{MessageCount: len(pending)})

	for i, msg := range pending {
		if ctx.Err() != nil {
			c.requeueRest(pending[i:])
			break
		}
		perr := c.publisher.Publish(ctx, msg)
		if perr != nil && ctx.Err() != nil && errors.Is(perr, ctx.Err()) {
			c.requeueRest(pending[i:])
			break
		}
		if perr != nil {
			safeHandle(c.handler, perr, ErrorContext{
				Route:       msg.RoutingKey,
				Destination: msg.Destination,
				Payload:     msg.Payload,
				Options:     msg.Options,
			})
		}
	}
	return err
}

func (c *Consumer) requeueRest(rest []types.Message) {
	slog.Info("consumer: killed while degrading, requeueing the rest",
		"consumer", c.id, "messages", len(rest))
	c.queue.Concat(rest...)
}

func (c *Consumer) heartbeat() {
	c.heartbeats.Add(1)
	c.lastHeartbeat.Store(c.clock.Now().UnixNano())
}
