package messaging

import (
	"context"
	"sync"
)

const inMemoryQueueSize = 256

type InMemoryQueue struct {
	mu     sync.RWMutex
	events chan ChangeEvent
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		events: make(chan ChangeEvent, inMemoryQueueSize),
	}
}

func (q *InMemoryQueue) PublishChange(ctx context.Context, event ChangeEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Changes() <-chan ChangeEvent {
	return q.events
}

func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.events)
	}
}
