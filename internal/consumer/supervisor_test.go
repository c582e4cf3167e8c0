package consumer

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"gomq-async/internal/fifo"
	"gomq-async/internal/mq/mqtest"
	"gomq-async/internal/types"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T, interval time.Duration, broker *mqtest.Broker, deps Deps) *Supervisor {
	t.Helper()
	if deps.Queue == nil {
		deps.Queue = fifo.New[types.Message]()
	}
	deps.Provider = broker
	if deps.Publisher == nil {
		deps.Publisher = &mqtest.Publisher{}
	}
	if deps.Handler == nil {
		deps.Handler = &recordingHandler{}
	}
	s := NewSupervisor(interval, Settings{NetworkRecoveryInterval: time.Millisecond}, deps)
	t.Cleanup(s.Stop)
	return s
}

func TestSupervisor_StartsOneConsumer(t *testing.T) {
	s := newTestSupervisor(t, time.Hour, &mqtest.Broker{}, Deps{})
	assert.Nil(t, s.Current())

	s.Start(context.Background())
	first := s.Current()
	require.NotNil(t, first)
	assert.True(t, first.Alive())
	assert.Equal(t, 1, first.ID())

	// starting twice does not spawn another consumer
	s.Start(context.Background())
	assert.Same(t, first, s.Current())
}

func TestSupervisor_ReplacesKilledConsumer(t *testing.T) {
	mock := clock.NewMock()
	rec := &mqtest.Recorder{}
	s := newTestSupervisor(t, time.Second, &mqtest.Broker{}, Deps{Clock: mock, Notifier: rec})
	s.Start(context.Background())

	first := s.Current()
	first.Kill()
	<-first.Done()

	mock.Add(time.Second)

	require.Eventually(t, func() bool {
		cur := s.Current()
		return cur != first && cur.Alive()
	}, waitFor, tick)

	assert.False(t, first.Alive())
	assert.Equal(t, 2, s.Current().ID())
	assert.Equal(t, 1, rec.Restarts())
}

func TestSupervisor_LeavesHealthyConsumerAlone(t *testing.T) {
	mock := clock.NewMock()
	rec := &mqtest.Recorder{}
	q := fifo.New[types.Message]()
	s := newTestSupervisor(t, time.Second, &mqtest.Broker{}, Deps{Clock: mock, Notifier: rec, Queue: q})
	s.Start(context.Background())
	first := s.Current()

	for i := range 3 {
		mock.Add(time.Second)
		require.Eventually(t, func() bool { return len(rec.Sizes()) == i+1 }, waitFor, tick)
	}

	assert.Same(t, first, s.Current())
	assert.True(t, first.Alive())
	assert.Zero(t, rec.Restarts())
	assert.Equal(t, []int{0, 0, 0}, rec.Sizes())
}

func TestSupervisor_ReplacesCrashedConsumer(t *testing.T) {
	q := fifo.New[types.Message]()
	q.Push(types.NewMessage("A", "r", nil, nil))
	boom := errors.New("boom")
	var failed atomic.Bool
	broker := &mqtest.Broker{PublishErr: func(types.Message) error {
		if failed.CompareAndSwap(false, true) {
			return boom
		}
		return nil
	}}
	rec := &mqtest.Recorder{}

	s := newTestSupervisor(t, 10*time.Millisecond, broker, Deps{Queue: q, Notifier: rec})
	s.Start(context.Background())
	first := s.Current()

	select {
	case <-first.Done():
	case <-time.After(waitFor):
		t.Fatal("first consumer did not crash")
	}
	assert.ErrorIs(t, first.Err(), boom)

	require.Eventually(t, func() bool {
		cur := s.Current()
		return cur != first && cur.Alive()
	}, waitFor, tick)
	assert.GreaterOrEqual(t, rec.Restarts(), 1)

	// the replacement keeps draining the same queue
	next := types.NewMessage("A", "r", nil, nil)
	q.Push(next)
	require.Eventually(t, func() bool {
		return slices.Contains(ids(broker.Published()), next.ID)
	}, waitFor, tick)
}

func TestSupervisor_Stop(t *testing.T) {
	s := newTestSupervisor(t, 10*time.Millisecond, &mqtest.Broker{}, Deps{})
	s.Start(context.Background())
	cur := s.Current()

	s.Stop()
	assert.False(t, cur.Alive())

	// idempotent, and Start after Stop is ignored
	s.Stop()
	s.Start(context.Background())
	assert.Same(t, cur, s.Current())
}

func TestSupervisor_StopBeforeStart(t *testing.T) {
	s := newTestSupervisor(t, time.Second, &mqtest.Broker{}, Deps{})
	s.Stop()
	s.Start(context.Background())
	assert.Nil(t, s.Current())
}
