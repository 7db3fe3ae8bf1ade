// Package cache persists known build failures across runs.
package cache

import "errors"

// Cache errors.
var (
	// ErrEmptyUnit is returned when an empty build unit is recorded.
	ErrEmptyUnit = errors.New("build unit is empty")

	// ErrInvalidReason is returned when a reason outside the enumeration is recorded.
	ErrInvalidReason = errors.New("invalid failure reason")

	// ErrLockTimeout is returned when the cache lock cannot be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for failure cache lock")
)
