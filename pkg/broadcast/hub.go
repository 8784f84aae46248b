package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
)

const DefaultBufferSize = 256

// Hub fans published values out to any number of subscribers. Delivery is
// at-most-once with no replay: a subscriber only receives values published
// after it subscribed, and when a subscriber's buffer is full the oldest
// buffered value is dropped to make room. Publish never blocks.
type Hub[T any] struct {
	mu      sync.RWMutex
	subs    map[int64]chan T
	nextID  int64
	closed  bool
	dropped atomic.Uint64
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{
		subs: make(map[int64]chan T),
	}
}

// Subscribe registers a new subscriber with the given buffer size (or
// DefaultBufferSize if size <= 0). The returned channel is closed when ctx is
// canceled or the hub is closed.
func (h *Hub[T]) Subscribe(ctx context.Context, size int) <-chan T {
	if size <= 0 {
		size = DefaultBufferSize
	}
	ch := make(chan T, size)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch

	context.AfterFunc(ctx, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	})
	return ch
}

// Publish delivers v to every current subscriber without blocking.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		// subscriber is full; drop the oldest value and try once more
		select {
		case <-ch:
			h.dropped.Add(1)
		default:
		}
		select {
		case ch <- v:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns the number of values that were discarded because a
// subscriber was not keeping up.
func (h *Hub[T]) Dropped() uint64 {
	return h.dropped.Load()
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes all subscriber channels. Subsequent calls to Subscribe return
// a closed channel, and Publish becomes a no-op.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
