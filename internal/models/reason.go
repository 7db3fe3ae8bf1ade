package models

import (
	"fmt"
	"strings"
)

// FailureReason explains why a unit did not produce an artifact.
type FailureReason string

const (
	// FailureDepFailed indicates a transitive dependency failed or could not be built.
	FailureDepFailed FailureReason = "DEP_FAILED"
	// FailureBuilderFailed indicates the unit's own builder exited non-zero.
	FailureBuilderFailed FailureReason = "BUILDER_FAILED"
	// FailureBuildTimeout indicates Nix reported its own timeout for the unit.
	FailureBuildTimeout FailureReason = "BUILD_TIMEOUT"
	// FailureMydraTimeout indicates the pass deadline fired before the unit finished.
	FailureMydraTimeout FailureReason = "MYDRA_TIMEOUT"
	// FailureCannotBuild indicates the unit is not buildable on this system.
	FailureCannotBuild FailureReason = "CANNOT_BUILD"
)

// String returns the string representation of the failure reason.
func (r FailureReason) String() string {
	return string(r)
}

// IsValid returns true if the failure reason is a member of the enumeration.
func (r FailureReason) IsValid() bool {
	switch r {
	case FailureDepFailed, FailureBuilderFailed, FailureBuildTimeout, FailureMydraTimeout, FailureCannotBuild:
		return true
	default:
		return false
	}
}

// Cacheable reports whether the reason may be persisted in the failure cache.
// A deadline belongs to one run, not to the unit.
func (r FailureReason) Cacheable() bool {
	return r.IsValid() && r != FailureMydraTimeout
}

// ValidFailureReasons returns all valid failure reasons.
func ValidFailureReasons() []FailureReason {
	return []FailureReason{
		FailureDepFailed,
		FailureBuilderFailed,
		FailureBuildTimeout,
		FailureMydraTimeout,
		FailureCannotBuild,
	}
}

// ParseFailureReason parses a reason code. The space-separated spelling
// ("DEP FAILED") written by older cache files is accepted too.
func ParseFailureReason(s string) (FailureReason, error) {
	r := FailureReason(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), " ", "_"))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown failure reason %q", s)
	}
	return r, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *FailureReason) UnmarshalText(text []byte) error {
	parsed, err := ParseFailureReason(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
