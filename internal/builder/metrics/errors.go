// Package metrics records build pass outcomes as Prometheus metrics.
package metrics

import "errors"

var (
	// ErrNilResult is returned when a nil result is recorded.
	ErrNilResult = errors.New("result cannot be nil")

	// ErrEmptyTextfilePath is returned when no textfile path is given.
	ErrEmptyTextfilePath = errors.New("textfile path cannot be empty")
)
