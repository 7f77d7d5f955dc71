// Package queue implements the hand-off between the receive loop and the
// plugin dispatcher.
package queue

import (
	"context"
	"sync"

	"firestige.xyz/shredtap/internal/core"
)

// Queue is a FIFO with a single producer and a single consumer. Push never
// blocks: an unbounded queue grows, a bounded queue evicts its oldest entry.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	capacity int
	closed   bool
	notify   chan struct{}
	dropped  uint64

	// OnDrop is called with the queue lock released after an eviction.
	OnDrop func(T)
}

// New creates a queue. capacity <= 0 means unbounded.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends v. It returns core.ErrQueueClosed once the consumer has closed
// the queue.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrQueueClosed
	}

	var (
		evicted    T
		hasEvicted bool
	)
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		evicted = q.items[q.head]
		var zero T
		q.items[q.head] = zero
		q.head++
		q.dropped++
		hasEvicted = true
	}
	q.items = append(q.items, v)
	q.compactLocked()
	q.mu.Unlock()

	if hasEvicted && q.OnDrop != nil {
		q.OnDrop(evicted)
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest entry, waiting until one is available. It returns
// false when ctx is done, or when the queue is closed and drained.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			v := q.items[q.head]
			var zero T
			q.items[q.head] = zero
			q.head++
			q.compactLocked()
			q.mu.Unlock()
			return v, true
		}
		closed := q.closed
		q.mu.Unlock()

		var zero T
		if closed {
			return zero, false
		}

		select {
		case <-ctx.Done():
			return zero, false
		case <-q.notify:
		}
	}
}

// Close rejects further pushes. Entries already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Dropped returns how many entries were evicted because the queue was full.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

// compactLocked reclaims the consumed prefix once it dominates the slice.
func (q *Queue[T]) compactLocked() {
	if q.head == 0 || q.head < len(q.items)/2 {
		return
	}
	n := copy(q.items, q.items[q.head:])
	var zero T
	for i := n; i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = q.items[:n]
	q.head = 0
}
