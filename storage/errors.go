package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when no document is stored under a key.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidKey is returned for keys that are empty or contain empty,
	// relative, or illegal path segments.
	ErrInvalidKey = errors.New("invalid storage key")
)
