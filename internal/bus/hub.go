// Package bus provides in-process fan-out and bounded ingest buffering for
// the event pipeline.
package bus

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuf = 64

// Subscription is a handle to one subscriber's channel, used to unsubscribe.
type Subscription[T any] struct {
	ch chan T
}

// C returns the receive side of the subscription.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Hub is an in-process pub/sub fan-out. Publish never blocks: messages to a
// subscriber with a full buffer are dropped and counted.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	closed bool

	bufSize int

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub whose subscribers get channels buffered to bufSize.
// A non-positive bufSize selects the default.
func NewHub[T any](bufSize int) *Hub[T] {
	if bufSize <= 0 {
		bufSize = defaultSubscriberBuf
	}

	return &Hub[T]{
		subs:    make(map[*Subscription[T]]struct{}),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber and returns its handle. Subscribing
// to a closed hub returns a handle whose channel is already closed.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{ch: make(chan T, h.bufSize)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(s.ch)

		return s
	}

	h.subs[s] = struct{}{}

	return s
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once.
func (h *Hub[T]) Unsubscribe(s *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; !ok {
		return
	}

	delete(h.subs, s)
	close(s.ch)
}

// Publish fans msg out to every subscriber without blocking. Slow
// subscribers with full buffers miss the message.
func (h *Hub[T]) Publish(msg T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for s := range h.subs {
		select {
		case s.ch <- msg:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel and rejects further publishes.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Delivered returns the number of messages placed on subscriber channels.
func (h *Hub[T]) Delivered() uint64 { return h.delivered.Load() }

// Dropped returns the number of messages lost to full subscriber buffers.
func (h *Hub[T]) Dropped() uint64 { return h.dropped.Load() }
