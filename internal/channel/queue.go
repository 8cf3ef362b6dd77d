package channel

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO with a blocking Pop. Once failed it rejects
// pushes; Pop drains queued items before reporting the failure.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	err    error
	signal chan struct{}
	done   chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It returns false once the queue has failed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.err != nil {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.notify()
	return true
}

// Pop removes the oldest item, waiting for one if the queue is empty.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.notify()
			}
			return v, nil
		}
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			return zero, err
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.done:
		case <-q.signal:
		}
	}
}

// Fail marks the queue terminal with err. Already queued items stay
// poppable. Only the first failure is kept.
func (q *Queue[T]) Fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failLocked(err)
}

// Abort fails the queue and discards anything still queued.
func (q *Queue[T]) Abort(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.failLocked(err)
}

func (q *Queue[T]) failLocked(err error) {
	if q.err != nil {
		return
	}
	q.err = err
	close(q.done)
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Err returns the terminal error, if any.
func (q *Queue[T]) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *Queue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
