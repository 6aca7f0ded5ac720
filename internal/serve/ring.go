package serve

import (
	"context"
	"io"
	"sync"
)

// ring is a broadcast log shared by one producer and any number of cursors.
// Pushing never blocks. When limit is positive only the newest limit items are
// retained and a cursor that falls behind resumes at the oldest retained item.
type ring[T any] struct {
	mu     sync.Mutex
	items  []T
	base   uint64
	limit  int
	closed bool
	err    error
	notify chan struct{}
}

func newRing[T any](limit int) *ring[T] {
	return &ring[T]{limit: limit, notify: make(chan struct{})}
}

func (r *ring[T]) push(v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	r.items = append(r.items, v)
	if r.limit > 0 && len(r.items) > r.limit {
		var zero T
		r.items[0] = zero
		r.items = r.items[1:]
		r.base++
	}
	r.wake()
	return nil
}

// close ends the log. A nil err ends it cleanly and cursors observe io.EOF.
func (r *ring[T]) close(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if err == nil {
		err = io.EOF
	}
	r.closed = true
	r.err = err
	r.wake()
	return nil
}

func (r *ring[T]) wake() {
	close(r.notify)
	r.notify = make(chan struct{})
}

// next returns the item at *pos and advances it, blocking until one is pushed.
// Once the log is closed and drained it returns the close error.
func (r *ring[T]) next(ctx context.Context, pos *uint64) (T, error) {
	var zero T
	for {
		r.mu.Lock()
		if *pos < r.base {
			*pos = r.base
		}
		if idx := *pos - r.base; idx < uint64(len(r.items)) {
			v := r.items[idx]
			*pos++
			r.mu.Unlock()
			return v, nil
		}
		if r.closed {
			err := r.err
			r.mu.Unlock()
			return zero, err
		}
		notify := r.notify
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-notify:
		}
	}
}

// queue is a FIFO with a single consumer. Popped items are released, so it
// only holds what the consumer has not taken yet.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	err    error
	notify chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{notify: make(chan struct{})}
}

func (q *queue[T]) push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, v)
	close(q.notify)
	q.notify = make(chan struct{})
	return nil
}

// pop removes and returns the oldest item, blocking until one is pushed. Once
// the queue is closed and empty it returns the close error, io.EOF for nil.
func (q *queue[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			return zero, err
		}
		notify := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-notify:
		}
	}
}

// close stops accepting items and returns the ones never popped.
func (q *queue[T]) close(err error) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	if err == nil {
		err = io.EOF
	}
	q.closed = true
	q.err = err
	pending := q.items
	q.items = nil
	close(q.notify)
	q.notify = make(chan struct{})
	return pending
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
