// Package memory provides an in-process batch queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/nsn-sourcing/internal/queue"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan queue.Batch
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding up to capacity pending batches.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan queue.Batch, capacity)}
}

// Enqueue pushes a batch or returns when ctx ends first.
func (q *Queue) Enqueue(ctx context.Context, batch queue.Batch) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return queue.ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- batch:
		return nil
	}
}

// Dequeue pops the next batch, respecting context cancellation. After Close
// it drains what is left and then reports queue.ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (queue.Batch, error) {
	select {
	case <-ctx.Done():
		return queue.Batch{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case batch, ok := <-q.ch:
		if !ok {
			return queue.Batch{}, queue.ErrClosed
		}
		return batch, nil
	}
}

// Len reports how many batches are waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops accepting batches. Closing twice is safe.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
