// Package fifo provides the in-memory buffer that sits between producers
// and the background publisher.
package fifo

import (
	"context"
	"sync"
)

// Queue is an unbounded multi-producer/multi-consumer FIFO with bulk pop
// and bulk requeue. Capacity limits are enforced by callers.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	// signal holds at most one pending wake-up for blocked poppers.
	signal chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{signal: make(chan struct{}, 1)}
}

// Push appends one item to the tail.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
}

// PushBelow appends v only while the queue holds fewer than limit items.
// The check and the append are one operation.
func (q *Queue[T]) PushBelow(v T, limit int) bool {
	q.mu.Lock()
	if len(q.items) >= limit {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// Concat appends all items to the tail, in order, as one operation.
func (q *Queue[T]) Concat(vs ...T) {
	if len(vs) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, vs...)
	q.mu.Unlock()
	q.wake()
}

// Len returns the number of resident items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// TryPopUpTo removes up to n items from the head without blocking.
func (q *Queue[T]) TryPopUpTo(n int) []T {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked(n)
}

// PopUpTo removes up to n items from the head, blocking until at least one
// is available or ctx is done.
func (q *Queue[T]) PopUpTo(ctx context.Context, n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	for {
		q.mu.Lock()
		out := q.popLocked(n)
		left := len(q.items)
		q.mu.Unlock()

		if len(out) > 0 {
			// another popper may be waiting for the remainder
			if left > 0 {
				q.wake()
			}
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue[T]) popLocked(n int) []T {
	if len(q.items) == 0 {
		return nil
	}
	n = min(n, len(q.items))
	out := make([]T, n)
	copy(out, q.items[:n])

	var zero T
	for i := range n {
		q.items[i] = zero
	}
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return out
}

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
