package main

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// runFirst runs fns together until the first one returns, then cancels the
// rest. Cancellation is not reported as an error.
func runFirst(ctx context.Context, fns ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		g.Go(func() error {
			defer cancel()
			return fn(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
