package pipeline

import (
	"sync"
	"time"
)

// Policy decides what TryPush does when the queue is full
type Policy int

const (
	// DropNewest rejects the incoming item and keeps the backlog intact
	DropNewest Policy = iota
	// DropOldest evicts the longest-queued item to admit the incoming one
	DropOldest
)

func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// QueueStats tracks queue activity. Queue-full events surface only here.
type QueueStats struct {
	Pushed   uint64 `json:"pushed"`
	Evicted  uint64 `json:"evicted"`
	Rejected uint64 `json:"rejected"`
	Popped   uint64 `json:"popped"`
}

// BoundedQueue is a fixed-capacity FIFO safe for concurrent producers and consumers.
//
// TryPush never blocks. Pop blocks up to a timeout. Close wakes every blocked
// Pop; items buffered at close time can still be popped, after which Pop
// reports ok=false immediately.
type BoundedQueue[T any] struct {
	mu     sync.Mutex
	items  []T // ring buffer
	head   int
	size   int
	policy Policy
	closed bool
	stats  QueueStats

	notify chan struct{} // holds one token while items may be available
	done   chan struct{} // closed by Close
}

// NewBoundedQueue creates a queue holding at most capacity items (minimum 1)
func NewBoundedQueue[T any](capacity int, policy Policy) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedQueue[T]{
		items:  make([]T, capacity),
		policy: policy,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// TryPush inserts item without blocking and reports whether it was inserted.
// Pushes after Close are no-ops returning false.
func (q *BoundedQueue[T]) TryPush(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.stats.Rejected++
		return false
	}

	if q.size == len(q.items) {
		if q.policy == DropNewest {
			q.stats.Rejected++
			return false
		}
		q.removeHead()
		q.stats.Evicted++
	}

	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	q.stats.Pushed++
	q.wake()
	return true
}

// Pop removes the oldest item, waiting up to timeout for one to arrive.
// ok is false on timeout, or once the queue is closed and empty.
func (q *BoundedQueue[T]) Pop(timeout time.Duration) (item T, ok bool) {
	if item, ok, closed := q.tryPop(); ok || closed || timeout <= 0 {
		return item, ok
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-q.notify:
		case <-q.done:
		case <-deadline.C:
			item, ok, _ = q.tryPop()
			return item, ok
		}

		if item, ok, closed := q.tryPop(); ok || closed {
			return item, ok
		}
	}
}

func (q *BoundedQueue[T]) tryPop() (item T, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return item, false, q.closed
	}

	item = q.removeHead()
	q.stats.Popped++
	if q.size > 0 {
		// Pass the token on so another waiting consumer sees the remainder
		q.wake()
	}
	return item, true, false
}

// removeHead must be called with mu held and size > 0
func (q *BoundedQueue[T]) removeHead() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item
}

func (q *BoundedQueue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Close stops accepting pushes and wakes all blocked poppers. Idempotent.
func (q *BoundedQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Drain removes and returns everything still buffered
func (q *BoundedQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.size)
	for q.size > 0 {
		out = append(out, q.removeHead())
	}
	return out
}

// Newest returns the most recently pushed item without removing it
func (q *BoundedQueue[T]) Newest() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return item, false
	}
	return q.items[(q.head+q.size-1)%len(q.items)], true
}

// Len returns the number of buffered items
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the fixed capacity
func (q *BoundedQueue[T]) Cap() int {
	return len(q.items)
}

// Policy returns the overflow policy chosen at construction
func (q *BoundedQueue[T]) Policy() Policy {
	return q.policy
}

// Closed reports whether Close has been called
func (q *BoundedQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns a snapshot of the counters
func (q *BoundedQueue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
