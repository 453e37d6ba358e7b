package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a record does not exist or is not
	// visible to the current tenant context.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record with the given key already exists.
	ErrConflict = errors.New("record already exists")

	// ErrLeaseExhausted is returned when the application pool could not
	// produce a connection within the retry budget. Callers surface it
	// as a server error; it is never silently swallowed.
	ErrLeaseExhausted = errors.New("connection pool exhausted")
)
