package db

import "errors"

// Common error types returned by catalog operations
var (
	// ErrNotFound is returned by lookups that miss, including every
	// get-or-create on a read-only catalog. It is an expected outcome.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgumentCount is returned when the number of values passed to a
	// table does not match its key columns.
	ErrInvalidArgumentCount = errors.New("invalid argument count")
	// ErrReadOnly is returned by mutations on a catalog opened read-only.
	ErrReadOnly = errors.New("catalog is read-only")
)
