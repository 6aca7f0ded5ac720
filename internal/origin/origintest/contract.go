// Package origintest provides the shared conformance suite for origin
// directory backends.
package origintest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gezibash/moq-relay/internal/origin"
)

const (
	urlA = "https://relay-a.example:4443"
	urlB = "https://relay-b.example:4443"
	ttl  = time.Hour
)

// RunBackendTests checks the Backend contract against backends built by
// newBackend. Each subtest gets a fresh backend.
func RunBackendTests(t *testing.T, newBackend func(t *testing.T) origin.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("ClaimGet", func(t *testing.T) {
		be := newBackend(t)
		if err := be.Claim(ctx, "demo", urlA, ttl); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		got, err := be.Get(ctx, "demo")
		if err != nil || got != urlA {
			t.Fatalf("Get = %q, %v; want %q", got, err, urlA)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		be := newBackend(t)
		if _, err := be.Get(ctx, "missing"); !errors.Is(err, origin.ErrNotFound) {
			t.Fatalf("Get missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("ClaimHeldByOther", func(t *testing.T) {
		be := newBackend(t)
		if err := be.Claim(ctx, "demo", urlA, ttl); err != nil {
			t.Fatalf("Claim A: %v", err)
		}
		if err := be.Claim(ctx, "demo", urlB, ttl); !errors.Is(err, origin.ErrDuplicate) {
			t.Fatalf("Claim B = %v, want ErrDuplicate", err)
		}
		if got, _ := be.Get(ctx, "demo"); got != urlA {
			t.Fatalf("owner changed to %q", got)
		}
	})

	t.Run("ReclaimSameURL", func(t *testing.T) {
		be := newBackend(t)
		for i := range 3 {
			if err := be.Claim(ctx, "demo", urlA, ttl); err != nil {
				t.Fatalf("Claim #%d: %v", i, err)
			}
		}
	})

	t.Run("ReleaseByOwner", func(t *testing.T) {
		be := newBackend(t)
		_ = be.Claim(ctx, "demo", urlA, ttl)
		if err := be.Release(ctx, "demo", urlA); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if _, err := be.Get(ctx, "demo"); !errors.Is(err, origin.ErrNotFound) {
			t.Fatalf("Get after release = %v", err)
		}
		if err := be.Claim(ctx, "demo", urlB, ttl); err != nil {
			t.Fatalf("Claim after release: %v", err)
		}
	})

	t.Run("ReleaseByOtherIsNoop", func(t *testing.T) {
		be := newBackend(t)
		_ = be.Claim(ctx, "demo", urlA, ttl)
		if err := be.Release(ctx, "demo", urlB); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if got, _ := be.Get(ctx, "demo"); got != urlA {
			t.Fatalf("entry removed by non-owner, got %q", got)
		}
		if err := be.Release(ctx, "missing", urlA); err != nil {
			t.Fatalf("Release missing: %v", err)
		}
	})

	t.Run("NamespacesIndependent", func(t *testing.T) {
		be := newBackend(t)
		if err := be.Claim(ctx, "a", urlA, ttl); err != nil {
			t.Fatal(err)
		}
		if err := be.Claim(ctx, "b", urlB, ttl); err != nil {
			t.Fatal(err)
		}
		if got, _ := be.Get(ctx, "b"); got != urlB {
			t.Fatalf("Get b = %q", got)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		be := newBackend(t)
		if err := be.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := be.Claim(ctx, "demo", urlA, ttl); !errors.Is(err, origin.ErrClosed) {
			t.Fatalf("Claim after close = %v, want ErrClosed", err)
		}
		if _, err := be.Get(ctx, "demo"); !errors.Is(err, origin.ErrClosed) {
			t.Fatalf("Get after close = %v, want ErrClosed", err)
		}
	})
}
