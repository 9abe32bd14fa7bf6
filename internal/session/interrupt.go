package session

import (
	"sync"

	"kaioken/internal/types"
)

// InterruptQueue is the per-turn FIFO that preserves display/log ordering
// for "interrupt-like" events (exec end, approval request, tool
// completion) observed while a model stream is still writing (spec §4.11,
// §5, GLOSSARY "Interrupt event"). An Exec End must never be delivered
// before its Exec Begin even if the underlying process finished while the
// stream was mid-flush; queuing until the stream is flushed guarantees
// that.
type InterruptQueue struct {
	mu     sync.Mutex
	active bool
	queue  []types.Item
}

// NewInterruptQueue constructs an empty, inactive queue.
func NewInterruptQueue() *InterruptQueue {
	return &InterruptQueue{}
}

// SetActive marks whether a model stream is currently writing. The turn
// engine calls this with true when a stream starts; Flush clears the flag
// itself once it has drained the queue.
func (q *InterruptQueue) SetActive(active bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = active
}

// Offer presents an interrupt-like item to the queue. If a stream is
// active, or the queue already holds items (so ordering must be
// preserved for whatever is already waiting), item is appended and Offer
// returns false: the caller must not act on it yet. Otherwise Offer
// returns true: the caller should handle it immediately.
func (q *InterruptQueue) Offer(item types.Item) (handleNow bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active || len(q.queue) > 0 {
		q.queue = append(q.queue, item)
		return false
	}
	return true
}

// Flush drains and returns every queued item in FIFO order, then marks the
// queue inactive.
func (q *InterruptQueue) Flush() []types.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.queue
	q.queue = nil
	q.active = false
	return out
}

// Len reports how many items are currently queued, for tests.
func (q *InterruptQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
