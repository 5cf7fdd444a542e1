// Package repository provides storage access for the train network:
// PostgreSQL for the directory, schedules and bookings, Redis for the
// station graph and search result caching.
package repository

import "errors"

var (
	// ErrNotFound is returned when a referenced row or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate key")

	// ErrConflict is returned when a write would break a stored invariant,
	// or when a transaction kept failing to serialize.
	ErrConflict = errors.New("conflict")
)
