// Package fanout delivers values to in-process subscribers without blocking
// the producer.
package fanout

import "sync"

// Queue hands pushed values to fn on its own goroutine, in push order. A
// coalescing queue skips straight to the newest value when it falls behind.
type Queue[T any] struct {
	fn       func(T)
	coalesce bool

	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func NewQueue[T any](fn func(T), coalesce bool) *Queue[T] {
	q := &Queue[T]{fn: fn, coalesce: coalesce}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if q.coalesce {
		q.items = q.items[:0]
	}
	q.items = append(q.items, v)
	q.cond.Signal()
}

// Close drops anything still queued. A delivery already in progress
// finishes.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

func (q *Queue[T]) run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		v := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.fn(v)
	}
}
