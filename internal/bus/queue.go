package bus

import (
	"sync"
	"sync/atomic"
)

const defaultQueueCap = 1024

// Queue is a bounded MPSC handoff between producers and a single consumer
// loop. Enqueue never blocks: when the queue is full the item is rejected
// and counted.
type Queue[T any] struct {
	ch chan T

	closeOnce sync.Once

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewQueue creates a queue with the given capacity. A non-positive capacity
// selects the default.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = defaultQueueCap
	}

	return &Queue[T]{ch: make(chan T, capacity)}
}

// Enqueue offers item to the queue. Returns false when the queue is full or
// closed.
func (q *Queue[T]) Enqueue(item T) (ok bool) {
	defer func() {
		// Enqueue after Close races with the channel close; treat it as
		// a rejection instead of panicking.
		if recover() != nil {
			q.rejected.Add(1)
			ok = false
		}
	}()

	select {
	case q.ch <- item:
		q.accepted.Add(1)

		return true
	default:
		q.rejected.Add(1)

		return false
	}
}

// C returns the consumer side. The channel is closed by Close after all
// accepted items are readable.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Close stops accepting items. The consumer drains whatever was accepted.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Accepted returns the number of items the queue accepted.
func (q *Queue[T]) Accepted() uint64 { return q.accepted.Load() }

// Rejected returns the number of items turned away at capacity.
func (q *Queue[T]) Rejected() uint64 { return q.rejected.Load() }
