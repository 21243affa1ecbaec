package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Broadcaster fans the stream queue out to per-viewer queues.
//
// It only pops the stream queue while at least one viewer is subscribed, so
// with nobody watching the stream queue keeps the most recent frames.
type Broadcaster struct {
	src        *BoundedQueue[*EncodedFrame]
	signal     *Signal
	popTimeout time.Duration
	viewerCap  int
	logger     Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	latest *EncodedFrame
	closed bool

	wake chan struct{}
	done chan struct{}
}

func NewBroadcaster(src *BoundedQueue[*EncodedFrame], signal *Signal, popTimeout time.Duration, viewerCap int, logger Logger) *Broadcaster {
	if logger == nil {
		logger = nopLogger{}
	}
	if popTimeout <= 0 {
		popTimeout = DefaultPopTimeout
	}
	return &Broadcaster{
		src:        src,
		signal:     signal,
		popTimeout: popTimeout,
		viewerCap:  viewerCap,
		logger:     logger,
		subs:       make(map[*Subscription]struct{}),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Run pumps frames until shutdown, then closes every subscription
func (b *Broadcaster) Run() {
	defer close(b.done)
	defer b.closeAll()

	for !b.signal.Fired() {
		if b.Viewers() == 0 {
			select {
			case <-b.wake:
			case <-b.signal.Done():
				return
			}
			continue
		}

		frame, ok := b.src.Pop(b.popTimeout)
		if !ok {
			if b.src.Closed() && b.src.Len() == 0 {
				return
			}
			continue
		}
		b.publish(frame)
	}
}

func (b *Broadcaster) publish(frame *EncodedFrame) {
	b.mu.Lock()
	b.latest = frame
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		// Per-viewer DropOldest: a stalled viewer only ever loses its own backlog
		sub.q.TryPush(frame)
	}
}

// Subscribe registers a viewer. After shutdown the returned subscription is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		ID: uuid.NewString(),
		q:  NewBoundedQueue[*EncodedFrame](b.viewerCap, DropOldest),
		b:  b,
	}

	b.mu.Lock()
	if b.closed || b.signal.Fired() {
		b.mu.Unlock()
		sub.q.Close()
		return sub
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return sub
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for sub := range b.subs {
		sub.q.Close()
	}
	b.subs = make(map[*Subscription]struct{})
}

// Latest returns the newest encoded frame, whether or not a viewer has pulled it yet
func (b *Broadcaster) Latest() *EncodedFrame {
	if f, ok := b.src.Newest(); ok {
		return f
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// Viewers returns the number of live subscriptions
func (b *Broadcaster) Viewers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Done is closed when Run returns
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

// Subscription is one viewer's private view of the stream
type Subscription struct {
	ID   string
	q    *BoundedQueue[*EncodedFrame]
	b    *Broadcaster
	once sync.Once
}

// Next waits up to timeout for the next frame
func (s *Subscription) Next(timeout time.Duration) (*EncodedFrame, bool) {
	return s.q.Pop(timeout)
}

// Closed reports whether the subscription can deliver no more frames
func (s *Subscription) Closed() bool {
	return s.q.Closed() && s.q.Len() == 0
}

// Stats returns the viewer queue counters (Evicted counts frames this viewer missed)
func (s *Subscription) Stats() QueueStats {
	return s.q.Stats()
}

// Close releases the subscription. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.unsubscribe(s)
		s.q.Close()
		s.q.Drain()
	})
}
