// Package origin maps broadcast namespaces to the relay that currently
// serves them. Entries expire unless refreshed, so a crashed relay drops
// out of the directory on its own.
package origin

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/gezibash/moq-relay/pkg/errors"
)

var (
	// ErrNotFound indicates no live origin is recorded for the namespace.
	ErrNotFound = fmt.Errorf("origin: %w", pkgerrors.ErrNotFound)

	// ErrDuplicate indicates another relay holds a live entry for the namespace.
	ErrDuplicate = fmt.Errorf("origin: %w", pkgerrors.ErrAlreadyExists)

	// ErrClosed indicates the backend has been closed.
	ErrClosed = fmt.Errorf("origin: backend %w", pkgerrors.ErrClosed)
)

// Backend stores namespace → origin URL entries with a time to live.
// All implementations must be safe for concurrent use.
type Backend interface {
	// Claim writes url for namespace with the given ttl. It succeeds when the
	// namespace is absent, expired, or already held by url, and fails with
	// ErrDuplicate otherwise.
	Claim(ctx context.Context, namespace, url string, ttl time.Duration) error

	// Get returns the live origin URL for namespace or ErrNotFound.
	Get(ctx context.Context, namespace string) (string, error)

	// Release deletes the entry if it is still held by url.
	Release(ctx context.Context, namespace, url string) error

	Close() error
}
