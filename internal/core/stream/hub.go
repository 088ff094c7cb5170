package stream

import "sync"

// Hub is a per-task broadcast channel: one producer, zero or more live
// subscribers. Publishing never blocks the producer; a subscriber whose
// buffer is full loses the event instead of stalling the stream (the
// heartbeat layer keeps such connections alive, and every subscriber still
// observes stream end). Late subscribers do not receive already published
// events.
type Hub[T any] struct {
	mu      sync.Mutex
	subs    map[chan T]struct{}
	closed  bool
	buffer  int
	dropped int64
}

const defaultBuffer = 64

func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub[T]{
		subs:   make(map[chan T]struct{}),
		buffer: buffer,
	}
}

// Publish delivers ev to every attached subscriber. Calling Publish after
// Close is a no-op.
func (h *Hub[T]) Publish(ev T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

// Subscribe attaches a new reader. The returned cancel func detaches it;
// it is safe to call cancel more than once and after Close. Subscribing to
// a closed hub yields an already-closed channel.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan T, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close ends the stream for all subscribers. Idempotent; called exactly
// once per task in practice, after the terminal event was published.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

// Dropped returns how many events were discarded due to slow subscribers.
func (h *Hub[T]) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// SubscriberCount returns the number of currently attached readers.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
