package session

import (
	"sync"

	"kaioken/internal/types"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind blocks the publisher rather than dropping events:
// spec §4.6 requires "lossless within reasonable buffer" delivery, and a
// blocking send (rather than a silent drop) is how Go naturally expresses
// that.
const subscriberBuffer = 256

// EventBus fans a session's events out to any number of subscribers
// (spec §4.6: "broadcast, lossless within reasonable buffer, single-writer
// ordering per session"). Publish is the single writer; every subscriber
// sees events in the order Publish was called.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[int]chan types.Event
	nextID      int
	closed      bool
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[int]chan types.Event)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed when Unsubscribe is called
// or the bus itself is closed.
func (b *EventBus) Subscribe() (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan types.Event, subscriberBuffer)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish delivers ev to every current subscriber. Each subscriber receives
// events in Publish order; the order in which subscribers are served is not
// defined.
// A publish after Close is a silent no-op.
func (b *EventBus) Publish(ev types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		ch <- ev
	}
}

// Close closes every subscriber channel and rejects further publishes.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount reports the number of currently-registered subscribers,
// for tests and diagnostics.
func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
