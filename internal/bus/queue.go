package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("bus: queue closed")

// Queue carries inbound payloads from connections to the ingestor. Unlike Bus
// it never drops: Publish blocks until there is room or ctx is done. Items
// keep the order they were published in.
type Queue struct {
	mu     sync.RWMutex
	ch     chan Inbound
	closed bool
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Inbound, size)}
}

// Publish enqueues in.
func (q *Queue) Publish(ctx context.Context, in Inbound) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the consumer side. It is closed by Close.
func (q *Queue) Events() <-chan Inbound {
	return q.ch
}

// Close stops accepting new items. Pending items can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
