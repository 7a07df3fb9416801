// Package queue buffers events that failed remote persistence and replays
// them in order once connectivity returns.
package queue

import (
	"context"
	"sync"

	"github.com/sunridge/fieldtrack/internal/errors"
)

// Queue is a FIFO buffer of pending events. Enqueue and Drain are safe to
// call from different goroutines; Drain calls are serialized so replays keep
// insertion order.
//
// Draining guarantees at-least-once delivery: a network failure can occur
// after the remote write succeeds but before the acknowledgment arrives, so
// the persistence function must be idempotent for completion events.
type Queue[T any] struct {
	mu     sync.Mutex
	events []T

	// drainMu serializes Drain so two drains cannot interleave and break
	// ordering.
	drainMu sync.Mutex
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Enqueue appends an event to the tail of the queue.
func (q *Queue[T]) Enqueue(event T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, event)
}

// Len returns the number of pending events.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drain persists events from the head of the queue, in order. On the first
// failure it stops and leaves the failed event and everything behind it
// intact for a later attempt. A nil return means the queue was fully drained.
func (q *Queue[T]) Drain(ctx context.Context, persist func(context.Context, T) error) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "drain canceled")
		}

		q.mu.Lock()
		if len(q.events) == 0 {
			q.mu.Unlock()
			return nil
		}
		head := q.events[0]
		q.mu.Unlock()

		if err := persist(ctx, head); err != nil {
			return errors.Wrap(err, "persist queued event")
		}

		q.mu.Lock()
		// Enqueue only appends, so the head is still ours to remove.
		q.events = q.events[1:]
		q.mu.Unlock()
	}
}
