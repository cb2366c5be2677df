package poller

import (
	"errors"
)

var (
	// ErrAlreadyExists is returned when adding a handle that is already
	// registered.
	ErrAlreadyExists = errors.New("poller: source already registered")

	// ErrNotFound is returned when modifying a handle that is not registered.
	ErrNotFound = errors.New("poller: source not registered")

	// ErrUnsupported is returned when the requested mode or source kind is
	// not supported by the backend.
	ErrUnsupported = errors.New("poller: unsupported by this backend")

	// ErrClosed is returned by operations on a closed poller.
	ErrClosed = errors.New("poller: closed")

	// ErrInvalidKey is returned for the reserved key 0.
	ErrInvalidKey = errors.New("poller: key 0 is reserved")
)
