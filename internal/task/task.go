// Package task provides structured ownership of goroutines: a set of tasks that
// share a cancellable context, report completion in any order, and are all
// cancelled and awaited when the owner closes the set.
package task

import (
	"context"
	"sync"
)

// Result is the outcome of a spawned task.
type Result struct {
	Name string
	Err  error
}

// Set owns a group of goroutines. Spawn, Ready, Release and Len must be
// called from the owning goroutine; Close may be called from anywhere.
type Set struct {
	ctx     context.Context
	cancel  context.CancelFunc
	results chan Result
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	pending int
}

// NewSet creates a set whose tasks run under a child of ctx.
func NewSet(ctx context.Context) *Set {
	ctx, cancel := context.WithCancel(ctx)
	return &Set{
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan Result),
		stop:    make(chan struct{}),
	}
}

// Context returns the context tasks run under. It is cancelled by Close.
func (s *Set) Context() context.Context { return s.ctx }

// Spawn starts fn in a new goroutine.
func (s *Set) Spawn(name string, fn func(ctx context.Context) error) {
	s.pending++
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := fn(s.ctx)
		select {
		case s.results <- Result{Name: name, Err: err}:
		case <-s.stop:
		}
	}()
}

// Ready returns the channel completed tasks are delivered on, or nil when no
// task is outstanding so a select case on it never fires. Call Release after
// receiving from it.
func (s *Set) Ready() <-chan Result {
	if s.pending == 0 {
		return nil
	}
	return s.results
}

// Release records that one result was received from Ready.
func (s *Set) Release() {
	if s.pending > 0 {
		s.pending--
	}
}

// Len returns the number of tasks whose results have not been received.
func (s *Set) Len() int { return s.pending }

// Close cancels every task and waits for all of them to return.
func (s *Set) Close() {
	s.cancel()
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Item is one value produced by Feed.
type Item[T any] struct {
	Value T
	Err   error
}

// Feed calls next repeatedly and delivers each outcome on the returned channel.
// The first failing call is delivered as the last item and the channel is then
// closed. Feed stops without delivering when ctx is done.
func Feed[T any](ctx context.Context, next func(context.Context) (T, error)) <-chan Item[T] {
	ch := make(chan Item[T])
	go func() {
		defer close(ch)
		for {
			v, err := next(ctx)
			select {
			case ch <- Item[T]{Value: v, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}
