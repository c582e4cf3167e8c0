package mqtest

import (
	"sync"
	"time"
)

// PublishedGroup is one MessagePublished notification.
type PublishedGroup struct {
	Destination string
	Count       int
}

// Recorder is a metrics.Notifier that keeps everything it is told.
type Recorder struct {
	mu        sync.Mutex
	dropped   int
	waits     []time.Duration
	sizes     []int
	groups    []PublishedGroup
	failures  []string
	restarts  int
	blocked   []string
	unblocked int
}

func (r *Recorder) MessageDropped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func (r *Recorder) WaitForAsyncQueue(waited time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, waited)
}

func (r *Recorder) AsyncQueueSize(depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, depth)
}

func (r *Recorder) MessagePublished(destination string, count int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, PublishedGroup{Destination: destination, Count: count})
}

func (r *Recorder) PublishFailed(class string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, class)
}

func (r *Recorder) ConsumerRestarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts++
}

func (r *Recorder) ConnectionBlocked(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked = append(r.blocked, reason)
}

func (r *Recorder) ConnectionUnblocked() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unblocked++
}

func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func (r *Recorder) Sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.sizes...)
}

func (r *Recorder) Groups() []PublishedGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PublishedGroup(nil), r.groups...)
}

func (r *Recorder) Failures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.failures...)
}

func (r *Recorder) Restarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}
