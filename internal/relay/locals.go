package relay

import (
	"fmt"
	"sync"

	"github.com/gezibash/moq-relay/internal/serve"
	pkgerrors "github.com/gezibash/moq-relay/pkg/errors"
)

// ErrDuplicate is returned when a namespace is already registered locally.
var ErrDuplicate = fmt.Errorf("relay: namespace %w", pkgerrors.ErrAlreadyExists)

// Locals maps namespaces to the broadcasts this relay is currently serving.
type Locals struct {
	mu     sync.RWMutex
	tracks map[string]*serve.TracksReader
}

// NewLocals creates an empty registry.
func NewLocals() *Locals {
	return &Locals{tracks: make(map[string]*serve.TracksReader)}
}

// Register makes tracks routable under its namespace until the returned
// registration is closed. A live registration for the same namespace makes
// it fail with ErrDuplicate.
func (l *Locals) Register(tracks *serve.TracksReader) (*Registration, error) {
	ns := tracks.Namespace()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.tracks[ns]; ok {
		return nil, fmt.Errorf("register %s: %w", ns, ErrDuplicate)
	}
	l.tracks[ns] = tracks
	return &Registration{locals: l, namespace: ns, tracks: tracks}, nil
}

// Route returns a reader for the broadcast registered under namespace.
func (l *Locals) Route(namespace string) (*serve.TracksReader, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tracks, ok := l.tracks[namespace]
	if !ok {
		return nil, false
	}
	return tracks.Clone(), true
}

// Namespaces returns the number of registered namespaces.
func (l *Locals) Namespaces() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tracks)
}

func (l *Locals) unregister(ns string, tracks *serve.TracksReader) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tracks[ns] == tracks {
		delete(l.tracks, ns)
	}
}

// Registration unregisters its namespace when closed.
type Registration struct {
	locals    *Locals
	namespace string
	tracks    *serve.TracksReader
	once      sync.Once
}

// Namespace returns the registered namespace.
func (r *Registration) Namespace() string { return r.namespace }

// Close unregisters the namespace. It is safe to call more than once.
func (r *Registration) Close() {
	r.once.Do(func() { r.locals.unregister(r.namespace, r.tracks) })
}
