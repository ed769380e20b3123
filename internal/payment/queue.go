// Package payment runs the simulated payment gateway: an in-process queue of
// payment tasks and the single worker that drains it.
package payment

import (
	"context"
	"errors"
	"sync"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
)

var ErrQueueClosed = errors.New("payment queue closed")

// Queue is an unbounded FIFO for many producers and one consumer.
type Queue struct {
	mu     sync.Mutex
	items  []orders.PaymentTask
	notify chan struct{} // capacity 1, closed by Close
	closed bool
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue never blocks.
func (q *Queue) Enqueue(_ context.Context, t orders.PaymentTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, t)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until a task is available, ctx is done, or the queue is
// closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (orders.PaymentTask, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = orders.PaymentTask{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return t, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return orders.PaymentTask{}, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return orders.PaymentTask{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Close rejects further tasks. Tasks already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
