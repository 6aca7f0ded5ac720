package serve

import (
	"errors"
	"fmt"

	pkgerrors "github.com/gezibash/moq-relay/pkg/errors"
)

var (
	// ErrDuplicate is returned when a track name already has a live writer,
	// or an object payload is written twice.
	ErrDuplicate = fmt.Errorf("duplicate: %w", pkgerrors.ErrAlreadyExists)

	// ErrMode is returned when a track writer selects a second delivery mode.
	ErrMode = errors.New("delivery mode already selected")

	// ErrClosed is returned when writing to a closed track, group, or broadcast.
	ErrClosed = fmt.Errorf("serve: %w", pkgerrors.ErrClosed)

	// ErrNotFound is returned when subscribing to a broadcast that no longer accepts requests.
	ErrNotFound = fmt.Errorf("serve: track %w", pkgerrors.ErrNotFound)
)
