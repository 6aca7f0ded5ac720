// Package errors provides shared sentinel errors used across the relay.
package errors

import stderrors "errors"

var (
	// ErrNotFound indicates the requested namespace, track or entry does not exist.
	ErrNotFound = stderrors.New("not found")

	// ErrClosed indicates the resource has been closed.
	ErrClosed = stderrors.New("closed")

	// ErrInvalidInput indicates the input is invalid.
	ErrInvalidInput = stderrors.New("invalid input")

	// ErrAlreadyExists indicates the resource is already live.
	ErrAlreadyExists = stderrors.New("already exists")

	// ErrNotConnected indicates a required session is not established.
	ErrNotConnected = stderrors.New("not connected")

	// ErrCancelled indicates the owning task went away before completion.
	ErrCancelled = stderrors.New("cancelled")
)
