// Package monitor supervises a batch `nix build` and classifies its output
// into per-unit outcomes.
package monitor

import (
	"regexp"

	"github.com/narvanalabs/mydra/internal/models"
)

// Nix quotes derivation paths with ASCII apostrophes or, in some releases,
// typographic quotes.
const (
	quoted   = `['‘]([^'’]+)['’]`
	quotedNC = `['‘][^'’]+['’]`
)

// rule maps one diagnostic line shape to an outcome.
type rule struct {
	name    string
	pattern *regexp.Regexp
	reason  models.FailureReason
	// list marks rules whose first group is a comma separated list of quoted units.
	list bool
}

// rules is evaluated in order against every line; the first matching rule wins.
var rules = []rule{
	{
		name:    "cannot-build",
		pattern: regexp.MustCompile(`cannot build derivation ` + quoted + `: (.+)`),
		reason:  models.FailureDepFailed,
	},
	{
		name:    "build-failed",
		pattern: regexp.MustCompile(`build of (` + quotedNC + `(?:, ` + quotedNC + `)*) failed`),
		reason:  models.FailureDepFailed,
		list:    true,
	},
	{
		name:    "build-timeout",
		pattern: regexp.MustCompile(`building of ` + quoted + ` timed out after`),
		reason:  models.FailureBuildTimeout,
	},
	{
		name:    "builder-failed",
		pattern: regexp.MustCompile(`builder for ` + quoted + ` failed with exit code (\d+);`),
		reason:  models.FailureBuilderFailed,
	},
	{
		name:    "dependencies-failed",
		pattern: regexp.MustCompile(`\d+ dependenc(?:y|ies) of derivation ` + quoted + ` failed to build`),
		reason:  models.FailureDepFailed,
	},
}

var quotedUnit = regexp.MustCompile(quoted)

// Classification is the outcome a single line assigns to a unit.
type Classification struct {
	Unit   models.BuildUnit
	Reason models.FailureReason
	Rule   string
}

// Classify matches line against the rule table and returns the outcomes it
// assigns. Lines that match no rule yield nil.
func Classify(line string) []Classification {
	for _, r := range rules {
		m := r.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if !r.list {
			return []Classification{{Unit: models.BuildUnit(m[1]), Reason: r.reason, Rule: r.name}}
		}
		var out []Classification
		for _, q := range quotedUnit.FindAllStringSubmatch(m[1], -1) {
			out = append(out, Classification{Unit: models.BuildUnit(q[1]), Reason: r.reason, Rule: r.name})
		}
		return out
	}
	return nil
}
