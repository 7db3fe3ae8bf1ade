// Package errors provides the error taxonomy for build passes.
//
// Per-unit failures are never errors: they are FailureReason values in a
// build result. The errors here abort a whole pass (CategoryFatal) or are
// swallowed where they occur (CategoryLocal).
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories.
const (
	// CategoryFatal aborts the whole invocation. It is never retried.
	CategoryFatal = "fatal"
	// CategoryLocal is logged and skipped. The unit keeps its outcome.
	CategoryLocal = "local"
)

// Error codes for specific failure types.
const (
	CodeEvaluationFailed   = "EVALUATION_FAILED"
	CodeInstantiateFailed  = "INSTANTIATE_FAILED"
	CodeDryRunFailed       = "DRY_RUN_FAILED"
	CodeDryRunParse        = "DRY_RUN_PARSE"
	CodeBuilderStartFailed = "BUILDER_START_FAILED"
	CodeRealizeFailed      = "REALIZE_FAILED"
	CodeRealizeMismatch    = "REALIZE_MISMATCH"
	CodeLogFetchFailed     = "LOG_FETCH_FAILED"
	CodeCacheIO            = "CACHE_IO"
)

// BuildError is a categorized error raised by a build pass.
type BuildError struct {
	Err      error
	Code     string
	Category string
	// Output holds the tail of the failing command's output, if any.
	Output string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Code)
}

// Unwrap returns the underlying error.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// NewBuildError creates a new BuildError with the given parameters.
func NewBuildError(err error, code, category string) *BuildError {
	return &BuildError{
		Err:      err,
		Code:     code,
		Category: category,
	}
}

// WithOutput attaches command output to the error, trimmed to its last lines.
func (e *BuildError) WithOutput(output string) *BuildError {
	e.Output = tail(output, 20)
	return e
}

// NewFatalError creates a fatal error with the given code.
func NewFatalError(err error, code string) *BuildError {
	return NewBuildError(err, code, CategoryFatal)
}

// NewInstantiateError creates an error for a failed batch instantiation.
func NewInstantiateError(err error, output string) *BuildError {
	return NewFatalError(fmt.Errorf("instantiating derivations: %w", err), CodeInstantiateFailed).WithOutput(output)
}

// NewEvaluationError creates an error for an evaluation that could not run at all.
func NewEvaluationError(err error, output string) *BuildError {
	return NewFatalError(fmt.Errorf("evaluating attributes: %w", err), CodeEvaluationFailed).WithOutput(output)
}

// NewDryRunError creates an error for a dry run command that exited non-zero.
func NewDryRunError(err error, output string) *BuildError {
	return NewFatalError(fmt.Errorf("dry run: %w", err), CodeDryRunFailed).WithOutput(output)
}

// NewDryRunParseError creates an error for an unrecognised dry run report line.
func NewDryRunParseError(line string) *BuildError {
	return NewFatalError(fmt.Errorf("dry-run parsing failed: %q", line), CodeDryRunParse)
}

// NewBuilderStartError creates an error for a builder process that could not be spawned.
func NewBuilderStartError(err error) *BuildError {
	return NewFatalError(fmt.Errorf("starting builder: %w", err), CodeBuilderStartFailed)
}

// NewRealizeError creates an error for a failed realize command.
func NewRealizeError(err error, output string) *BuildError {
	return NewFatalError(fmt.Errorf("realizing outputs: %w", err), CodeRealizeFailed).WithOutput(output)
}

// NewRealizeMismatchError creates an error for a realize call whose locations
// do not correspond 1:1 with the requested units.
func NewRealizeMismatchError(requested, returned int) *BuildError {
	return NewFatalError(
		fmt.Errorf("realize returned %d locations for %d successful units", returned, requested),
		CodeRealizeMismatch,
	)
}

// NewLogFetchError creates a local error for a build log that could not be fetched.
func NewLogFetchError(err error) *BuildError {
	return NewBuildError(fmt.Errorf("fetching build log: %w", err), CodeLogFetchFailed, CategoryLocal)
}

// NewCacheIOError creates a fatal error for failure cache I/O.
func NewCacheIOError(err error) *BuildError {
	return NewFatalError(fmt.Errorf("failure cache: %w", err), CodeCacheIO)
}

// IsBuildError checks if an error is a BuildError.
func IsBuildError(err error) bool {
	var buildErr *BuildError
	return errors.As(err, &buildErr)
}

// AsBuildError attempts to convert an error to a BuildError.
func AsBuildError(err error) (*BuildError, bool) {
	var buildErr *BuildError
	if errors.As(err, &buildErr) {
		return buildErr, true
	}
	return nil, false
}

// IsFatal reports whether err aborts a build pass.
func IsFatal(err error) bool {
	if buildErr, ok := AsBuildError(err); ok {
		return buildErr.Category == CategoryFatal
	}
	return false
}

// CodeOf returns the code of err, or the empty string if err is not a BuildError.
func CodeOf(err error) string {
	if buildErr, ok := AsBuildError(err); ok {
		return buildErr.Code
	}
	return ""
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
