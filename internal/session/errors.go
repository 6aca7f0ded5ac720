package session

import (
	"errors"
	"fmt"

	pkgerrors "github.com/gezibash/moq-relay/pkg/errors"
)

// Error codes carried in AnnounceError, SubscribeError, SubscribeDone and on connection close.
const (
	CodeOK          uint64 = 0
	CodeProtocol    uint64 = 1
	CodeNotFound    uint64 = 404
	CodeDuplicate   uint64 = 409
	CodeInternal    uint64 = 500
	CodeUnavailable uint64 = 503
)

var (
	// ErrDuplicate is returned by a second Ok on the same announce, and by
	// announcing a namespace this session is already announcing.
	ErrDuplicate = fmt.Errorf("session: %w", pkgerrors.ErrAlreadyExists)

	// ErrVersion is returned when the peer's Setup carries an unsupported version.
	ErrVersion = errors.New("session: unsupported version")

	// ErrClosed is returned for operations on a closed session or announce.
	ErrClosed = fmt.Errorf("session: %w", pkgerrors.ErrClosed)

	// ErrUnannounced is the close reason of an announce withdrawn by the peer.
	ErrUnannounced = errors.New("session: announce withdrawn")
)

// Error is an error reported by or to the peer with a numeric code.
type Error struct {
	Code   uint64
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("session error %d", e.Code)
	}
	return fmt.Sprintf("session error %d: %s", e.Code, e.Reason)
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WriteError wraps a transport failure while writing to a stream.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "write failed: " + e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }

// code maps a local error to the code sent to the peer.
func code(err error) (uint64, string) {
	var se *Error
	switch {
	case err == nil:
		return CodeOK, ""
	case errors.As(err, &se):
		return se.Code, se.Reason
	case errors.Is(err, pkgerrors.ErrNotFound):
		return CodeNotFound, err.Error()
	case errors.Is(err, pkgerrors.ErrAlreadyExists):
		return CodeDuplicate, err.Error()
	default:
		return CodeInternal, err.Error()
	}
}

// fromCode maps a code received from the peer to an error. Code 0 is a clean end.
func fromCode(c uint64, reason string) error {
	if c == CodeOK {
		return nil
	}
	return &Error{Code: c, Reason: reason}
}
