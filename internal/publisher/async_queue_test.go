package publisher

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gomq-async/internal/consumer"
	"gomq-async/internal/mq/mqtest"
	"gomq-async/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testSettings(limit int, strategy BackPressureStrategy) Settings {
	return Settings{
		MaxQueueSize:       limit,
		Strategy:           strategy,
		SupervisorInterval: 10 * time.Millisecond,
		WaitPollInterval:   time.Millisecond,
		Consumer:           consumer.Settings{NetworkRecoveryInterval: time.Millisecond},
	}
}

// newIdleQueue builds a queue whose supervisor is not running, so nothing
// drains it unless the test does.
func newIdleQueue(t *testing.T, settings Settings, rec *mqtest.Recorder) *AsyncQueue {
	t.Helper()
	q, err := newAsyncQueue(settings, Deps{
		Provider:  &mqtest.Broker{},
		Publisher: &mqtest.Publisher{},
		Notifier:  rec,
	})
	require.NoError(t, err)
	return q
}

func message(destination string) types.Message {
	return types.NewMessage(destination, "route", []byte("x"), nil)
}

func fill(t *testing.T, q *AsyncQueue, n int) {
	t.Helper()
	for range n {
		require.NoError(t, q.Push(context.Background(), message("events")))
	}
}

func TestPush_Raise(t *testing.T) {
	rec := &mqtest.Recorder{}
	q := newIdleQueue(t, testSettings(3, Raise), rec)
	fill(t, q, 3)

	err := q.Push(context.Background(), message("events"))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 3, q.Size())
	assert.Equal(t, 1, rec.Dropped())
}

func TestPush_Drop(t *testing.T) {
	rec := &mqtest.Recorder{}
	q := newIdleQueue(t, testSettings(3, Drop), rec)
	fill(t, q, 3)

	for range 5 {
		require.NoError(t, q.Push(context.Background(), message("events")))
	}
	assert.Equal(t, 3, q.Size())
	assert.Equal(t, 5, rec.Dropped())
}

func TestPush_WaitCompletesAfterDrain(t *testing.T) {
	rec := &mqtest.Recorder{}
	q := newIdleQueue(t, testSettings(2, Wait), rec)
	fill(t, q, 2)

	last := message("late")
	done := make(chan error, 1)
	go func() { done <- q.Push(context.Background(), last) }()

	select {
	case err := <-done:
		t.Fatalf("push returned before the queue drained: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, q.queue.Len())

	q.queue.TryPopUpTo(1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("push did not complete after drain")
	}

	rest := q.queue.TryPopUpTo(10)
	require.Len(t, rest, 2)
	assert.Equal(t, last.ID, rest[1].ID)
	assert.Len(t, rec.Waits(), 1)
	assert.Zero(t, rec.Dropped())
}

func TestPush_WaitHonoursContext(t *testing.T) {
	q := newIdleQueue(t, testSettings(1, Wait), &mqtest.Recorder{})
	fill(t, q, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Push(ctx, message("events"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Size())
}

func TestSize_CountsInFlightBatch(t *testing.T) {
	release := make(chan struct{})
	broker := &mqtest.Broker{
		CreateErr: func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	q, err := newAsyncQueue(testSettings(100, Raise), Deps{Provider: broker, Publisher: &mqtest.Publisher{}})
	require.NoError(t, err)
	fill(t, q, 3)

	q.supervisor.Start(context.Background())
	t.Cleanup(q.supervisor.Stop)

	require.Eventually(t, func() bool { return q.queue.Len() == 0 }, waitFor, tick)
	assert.Equal(t, 3, q.Size(), "the popped batch is still counted")

	close(release)
	require.Eventually(t, func() bool { return q.Size() == 0 }, waitFor, tick)
	assert.Len(t, broker.Published(), 3)
}

func TestAsyncQueue_EndToEnd(t *testing.T) {
	broker := &mqtest.Broker{}
	rec := &mqtest.Recorder{}
	q, err := NewAsyncQueue(context.Background(), testSettings(100, Raise), Deps{
		Provider:  broker,
		Publisher: &mqtest.Publisher{},
		Notifier:  rec,
	})
	require.NoError(t, err)
	assert.True(t, q.ConsumerAlive())

	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, "A", "a.1", []byte("1"), nil))
	require.NoError(t, q.Publish(ctx, "A", "a.2", []byte("2"), nil))
	require.NoError(t, q.Publish(ctx, "B", "b.1", []byte("3"), map[string]any{"persistent": false}))

	shutdownCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, q.Shutdown(shutdownCtx))

	published := broker.Published()
	require.Len(t, published, 3)
	var keys []string
	for _, m := range published {
		keys = append(keys, m.RoutingKey)
	}
	assert.ElementsMatch(t, []string{"a.1", "a.2", "b.1"}, keys)
	assert.Zero(t, q.Size())
	assert.False(t, q.ConsumerAlive())
	assert.Empty(t, rec.Failures())
}

func TestShutdown_TimesOutWithMessagesLeft(t *testing.T) {
	broker := &mqtest.Broker{
		CreateErr: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	q, err := NewAsyncQueue(context.Background(), testSettings(100, Raise), Deps{Provider: broker, Publisher: &mqtest.Publisher{}})
	require.NoError(t, err)
	fill(t, q, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)

	assert.False(t, q.ConsumerAlive())
	assert.Empty(t, broker.Published())
	assert.Equal(t, 2, q.queue.Len(), "the interrupted batch goes back to the queue")
}

func TestNewAsyncQueue_RejectsBadSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		wantErr  error
	}{
		{name: "unknown strategy", settings: Settings{Strategy: "block"}, wantErr: ErrInvalidStrategy},
		{name: "negative size", settings: Settings{MaxQueueSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewAsyncQueue(context.Background(), tt.settings, Deps{Provider: &mqtest.Broker{}})
			require.Error(t, err)
			assert.Nil(t, q)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Defaults(t *testing.T) {
	s := Settings{}.withDefaults()
	assert.Equal(t, DefaultMaxQueueSize, s.MaxQueueSize)
	assert.Equal(t, Raise, s.Strategy)
	assert.Equal(t, consumer.DefaultSupervisorInterval, s.SupervisorInterval)
	assert.Equal(t, DefaultWaitPollInterval, s.WaitPollInterval)
	assert.NoError(t, s.Validate())
}

func TestNewAsyncQueue_NormalisesStrategy(t *testing.T) {
	tests := []struct {
		in   BackPressureStrategy
		want BackPressureStrategy
	}{
		{in: "Drop", want: Drop},
		{in: " WAIT ", want: Wait},
		{in: "RAISE", want: Raise},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			q := newIdleQueue(t, testSettings(1, tt.in), &mqtest.Recorder{})
			assert.Equal(t, tt.want, q.settings.Strategy)
		})
	}
}

func TestPush_MixedCaseDropDrops(t *testing.T) {
	rec := &mqtest.Recorder{}
	q := newIdleQueue(t, testSettings(1, "Drop"), rec)
	fill(t, q, 1)

	require.NoError(t, q.Push(context.Background(), message("events")))
	assert.Equal(t, 1, q.Size())
	assert.Equal(t, 1, rec.Dropped())
}

func TestPush_ConcurrentProducersRespectLimit(t *testing.T) {
	const limit = 10
	rec := &mqtest.Recorder{}
	q := newIdleQueue(t, testSettings(limit, Drop), rec)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				assert.NoError(t, q.Push(context.Background(), message("events")))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, q.queue.Len())
	assert.Equal(t, 200-limit, rec.Dropped())
}

func TestPush_RejectsInvalidMessage(t *testing.T) {
	q := newIdleQueue(t, testSettings(10, Raise), &mqtest.Recorder{})

	err := q.Publish(context.Background(), "events", strings.Repeat("k", types.MaxNameLength+1), nil, nil)
	require.ErrorIs(t, err, types.ErrInvalidMessage)
	assert.Zero(t, q.Size())

	require.NoError(t, q.Publish(context.Background(), "", "my-queue", nil, nil), "the default exchange is a valid destination")
	assert.Equal(t, 1, q.Size())
}
