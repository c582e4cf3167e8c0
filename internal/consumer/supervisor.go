package consumer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultSupervisorInterval = 200 * time.Millisecond

// Supervisor keeps exactly one live Consumer per queue. It checks on a
// fixed interval, so a consumer that dies leaves the queue undrained for
// at most one interval; pushes keep landing in the queue meanwhile.
type Supervisor struct {
	interval time.Duration
	settings Settings
	deps     Deps

	current atomic.Pointer[Consumer]
	nextID  int

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

// NewSupervisor creates a supervisor for consumers built from settings and
// deps. Nothing runs until Start.
func NewSupervisor(interval time.Duration, settings Settings, deps Deps) *Supervisor {
	if interval <= 0 {
		interval = DefaultSupervisorInterval
	}
	settings = settings.withDefaults()
	return &Supervisor{
		interval: interval,
		settings: settings,
		deps:     deps.withDefaults(settings),
		done:     make(chan struct{}),
	}
}

// Start launches the first consumer and the check loop.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.stopped {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.spawn(ctx)
	// the ticker exists before Start returns so no tick can be missed
	ticker := s.deps.Clock.Ticker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		slog.Info("supervisor started", "interval", s.interval.String())
		for {
			select {
			case <-ctx.Done():
				slog.Info("supervisor: stopped")
				return
			case <-ticker.C:
				s.check(ctx)
			}
		}
	}()
}

// Current returns the consumer that is supposed to be running.
func (s *Supervisor) Current() *Consumer { return s.current.Load() }

// check replaces a dead consumer and reports the queue depth.
func (s *Supervisor) check(ctx context.Context) {
	if cur := s.current.Load(); cur == nil || !cur.Alive() {
		if cur != nil {
			cur.Kill()
			slog.Warn("supervisor: consumer died, starting a replacement",
				"consumer", cur.ID(), "error", cur.Err())
		}
		s.spawn(ctx)
		s.deps.Notifier.ConsumerRestarted()
	}

	s.deps.Notifier.AsyncQueueSize(s.deps.Queue.Len())
}

// spawn is only called from Start and the check loop, never concurrently.
func (s *Supervisor) spawn(ctx context.Context) *Consumer {
	s.nextID++
	c := New(s.nextID, s.settings, s.deps)
	c.Start(ctx)
	s.current.Store(c)
	return c
}

// Stop ends the check loop and the current consumer, waiting for both.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-s.done
	if cur := s.current.Load(); cur != nil {
		cur.Kill()
		<-cur.Done()
	}
}
