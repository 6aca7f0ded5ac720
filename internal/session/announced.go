package session

import (
	"fmt"
	"sync"
)

// AnnounceReplier answers an announce on the wire.
type AnnounceReplier interface {
	AnnounceOk(namespace string) error
	AnnounceError(namespace string, err error) error
}

// Announced is a namespace announced by the peer. It must be accepted with Ok
// at most once, or rejected with Close. Closed fires when the peer withdraws
// the announce, the session ends, or it is closed locally.
type Announced struct {
	namespace string
	replier   AnnounceReplier
	onClose   func()

	mu     sync.Mutex
	acked  bool
	closed bool
	err    error
	done   chan struct{}
}

// NewAnnounced creates an announce answered through replier.
func NewAnnounced(namespace string, replier AnnounceReplier) *Announced {
	return &Announced{
		namespace: namespace,
		replier:   replier,
		done:      make(chan struct{}),
	}
}

// Namespace returns the announced namespace.
func (a *Announced) Namespace() string { return a.namespace }

// Ok accepts the announce. A second call returns ErrDuplicate.
func (a *Announced) Ok() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("announce %s: %w", a.namespace, ErrClosed)
	}
	if a.acked {
		a.mu.Unlock()
		return fmt.Errorf("announce %s ok: %w", a.namespace, ErrDuplicate)
	}
	a.acked = true
	a.mu.Unlock()

	return a.replier.AnnounceOk(a.namespace)
}

// Close ends the announce locally. An announce that was never accepted is
// rejected with the code derived from err.
func (a *Announced) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	acked, ok := a.finish(err)
	if ok && !acked {
		_ = a.replier.AnnounceError(a.namespace, err)
	}
}

// withdraw ends the announce on behalf of the peer.
func (a *Announced) withdraw(err error) {
	a.finish(err)
}

func (a *Announced) finish(err error) (acked, ok bool) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return a.acked, false
	}
	a.closed = true
	a.err = err
	acked = a.acked
	close(a.done)
	a.mu.Unlock()

	if a.onClose != nil {
		a.onClose()
	}
	return acked, true
}

// Closed is closed when the announce ends. Err reports why.
func (a *Announced) Closed() <-chan struct{} { return a.done }

// Err returns the reason the announce ended, or nil while it is live.
func (a *Announced) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}
