package task

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

func TestReadyNilWhenEmpty(t *testing.T) {
	s := NewSet(context.Background())
	defer s.Close()

	if s.Ready() != nil {
		t.Fatal("Ready should be nil with no tasks")
	}
	select {
	case <-s.Ready():
		t.Fatal("receive from empty set should never fire")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestCompletionsInAnyOrder(t *testing.T) {
	s := NewSet(context.Background())
	defer s.Close()

	release := make(chan struct{})
	s.Spawn("slow", func(ctx context.Context) error {
		<-release
		return nil
	})
	failure := errors.New("boom")
	s.Spawn("fast", func(ctx context.Context) error { return failure })

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}

	res := <-s.Ready()
	s.Release()
	if res.Name != "fast" || !errors.Is(res.Err, failure) {
		t.Fatalf("first result = %+v", res)
	}

	close(release)
	res = <-s.Ready()
	s.Release()
	if res.Name != "slow" || res.Err != nil {
		t.Fatalf("second result = %+v", res)
	}
	if s.Len() != 0 || s.Ready() != nil {
		t.Fatal("set should be empty")
	}
}

func TestCloseCancelsAndWaits(t *testing.T) {
	s := NewSet(context.Background())

	var finished atomic.Int32
	for i := 0; i < 3; i++ {
		s.Spawn("wait", func(ctx context.Context) error {
			<-ctx.Done()
			finished.Add(1)
			return ctx.Err()
		})
	}
	s.Spawn("done", func(ctx context.Context) error { return nil })

	s.Close()
	if finished.Load() != 3 {
		t.Fatalf("finished = %d, want 3", finished.Load())
	}
	if s.Context().Err() == nil {
		t.Fatal("context should be cancelled")
	}
	s.Close()
}

func TestFeed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := 0
	items := Feed(ctx, func(context.Context) (int, error) {
		n++
		if n > 3 {
			return 0, io.EOF
		}
		return n, nil
	})

	var got []int
	var last error
	for item := range items {
		if item.Err != nil {
			last = item.Err
			continue
		}
		got = append(got, item.Value)
	}
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("values = %v", got)
	}
	if !errors.Is(last, io.EOF) {
		t.Fatalf("last error = %v, want io.EOF", last)
	}
}

func TestFeedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := Feed(ctx, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	cancel()

	select {
	case _, ok := <-items:
		if ok {
			// The cancellation error may still be delivered before the channel closes.
			<-items
		}
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
}
