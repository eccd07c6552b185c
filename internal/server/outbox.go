package server

import (
	"sync"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// Outbox is a session's bounded outbound queue. When it is full a push
// discards the oldest queued frame, so producers never block on a slow reader.
type Outbox struct {
	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	dropped uint64
}

// NewOutbox creates an outbox holding up to capacity frames.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &Outbox{ch: make(chan []byte, capacity)}
}

// Push enqueues frame. It returns false once the outbox is closed.
func (o *Outbox) Push(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}

	for {
		select {
		case o.ch <- frame:
			return true
		default:
		}

		// Full: evict the oldest frame. The reader may have drained one in the
		// meantime, in which case the retry above succeeds.
		select {
		case <-o.ch:
			o.dropped++
			metrics.OutboxDropped.Inc()
		default:
		}
	}
}

// C is drained by the session's write pump. It is closed by Close.
func (o *Outbox) C() <-chan []byte {
	return o.ch
}

// Close stops further pushes and closes C. Safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}

// Dropped reports how many frames were evicted.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Len reports the number of queued frames.
func (o *Outbox) Len() int {
	return len(o.ch)
}
