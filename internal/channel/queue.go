package channel

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// QueueStats counts traffic through a queue.
type QueueStats struct {
	Published int64
	Consumed  int64
	Rejected  int64
}

// Queue is an unbounded FIFO. Publish never blocks and never drops while the
// queue is open, so producers on the acquisition path are never held up by
// slow consumers.
type Queue[T any] struct {
	name   string
	mu     sync.Mutex
	items  []T
	head   int
	notify chan struct{}
	closed bool
	stats  QueueStats
}

func NewQueue[T any](name string) *Queue[T] {
	return &Queue[T]{name: name, notify: make(chan struct{}, 1)}
}

func (q *Queue[T]) Name() string { return q.name }

// Publish appends item. It returns false only after Close.
func (q *Queue[T]) Publish(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.stats.Rejected++
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.stats.Published++
	q.mu.Unlock()

	q.wake()
	return true
}

// wake lets one waiting consumer re-check the queue.
func (q *Queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryNext pops the oldest item without blocking.
func (q *Queue[T]) TryNext() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	q.stats.Consumed++
	return item, true
}

// Next blocks until an item is available, the queue is closed and drained, or
// ctx is done.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		item, ok := q.popLocked()
		closed := q.closed
		remaining := len(q.items) - q.head
		q.mu.Unlock()
		if ok {
			if remaining > 0 {
				q.wake()
			}
			return item, nil
		}
		if closed {
			q.wake()
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close stops accepting items. Queued items can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
