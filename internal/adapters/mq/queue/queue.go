// Package queue holds prepared contract actions until a dispatcher picks them up.
package queue

import (
	"context"
	"sync"

	"github.com/okian/popkomodo/internal/domain/model"
	"github.com/okian/popkomodo/pkg/metrics"
)

const defaultQueueCapacity = 16

// Action is the payload flowing through the queue.
type Action = model.Action

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an action. It returns false if the action was not accepted.
	Enqueue(ctx context.Context, a Action) bool

	// Dequeue returns a channel that receives actions as they become available.
	// The channel is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Action

	// Len returns the number of queued actions.
	Len(ctx context.Context) int

	// Close stops accepting actions and closes dequeue channels once drained.
	Close() error

	// IsClosed reports whether Close was called.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	actions  chan Action
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.actions = make(chan Action, q.capacity)
	metrics.UpdateDispatchQueueSize(0)
	return q
}

// Enqueue adds an action to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, a Action) bool { //nolint:gocritic // hugeParam: passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	select {
	case q.actions <- a:
		metrics.UpdateDispatchQueueSize(len(q.actions))
		return true
	case <-ctx.Done():
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives actions as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Action {
	out := make(chan Action)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case a, ok := <-q.actions:
				if !ok {
					return
				}
				metrics.UpdateDispatchQueueSize(len(q.actions))
				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of queued actions.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.actions)
	metrics.UpdateDispatchQueueSize(size)
	return size
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.actions)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
