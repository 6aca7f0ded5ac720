// Package memory provides an in-process origin directory backend. It suits a
// single relay or tests; entries are lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gezibash/moq-relay/internal/origin"
)

func init() {
	origin.Register("memory", NewFactory, nil)
}

// NewFactory creates a memory backend. The config map is ignored.
func NewFactory(_ context.Context, _ map[string]string) (origin.Backend, error) {
	return New(), nil
}

type entry struct {
	url     string
	expires time.Time
}

// Backend is an in-memory implementation of origin.Backend.
type Backend struct {
	mu      sync.Mutex
	entries map[string]entry
	closed  bool
	now     func() time.Time
}

// New returns an empty backend using the wall clock.
func New() *Backend {
	return NewWithClock(time.Now)
}

// NewWithClock returns an empty backend reading time from now.
func NewWithClock(now func() time.Time) *Backend {
	return &Backend{entries: make(map[string]entry), now: now}
}

// Claim implements origin.Backend.
func (b *Backend) Claim(_ context.Context, namespace, url string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return origin.ErrClosed
	}
	now := b.now()
	if e, ok := b.entries[namespace]; ok && e.url != url && now.Before(e.expires) {
		return origin.ErrDuplicate
	}
	b.entries[namespace] = entry{url: url, expires: now.Add(ttl)}
	return nil
}

// Get implements origin.Backend.
func (b *Backend) Get(_ context.Context, namespace string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", origin.ErrClosed
	}
	e, ok := b.entries[namespace]
	if !ok || !b.now().Before(e.expires) {
		return "", origin.ErrNotFound
	}
	return e.url, nil
}

// Release implements origin.Backend.
func (b *Backend) Release(_ context.Context, namespace, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return origin.ErrClosed
	}
	if e, ok := b.entries[namespace]; ok && e.url == url {
		delete(b.entries, namespace)
	}
	return nil
}

// Close implements origin.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.entries = nil
	return nil
}
