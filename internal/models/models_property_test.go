package models

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genFailureReason generates a random FailureReason.
func genFailureReason() gopter.Gen {
	return gen.OneConstOf(
		FailureDepFailed,
		FailureBuilderFailed,
		FailureBuildTimeout,
		FailureMydraTimeout,
		FailureCannotBuild,
	)
}

// genBuildUnit generates a plausible derivation path.
func genBuildUnit() gopter.Gen {
	return gen.Identifier().Map(func(name string) BuildUnit {
		return BuildUnit("/nix/store/" + strings.Repeat("a", 32) + "-" + name + ".drv")
	})
}

// TestFailureReasonParsing tests that every reason parses back to itself,
// including the legacy space-separated spelling.
func TestFailureReasonParsing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reason codes round-trip through ParseFailureReason", prop.ForAll(
		func(r FailureReason) bool {
			parsed, err := ParseFailureReason(r.String())
			if err != nil || parsed != r {
				return false
			}
			legacy, err := ParseFailureReason(strings.ReplaceAll(r.String(), "_", " "))
			return err == nil && legacy == r
		},
		genFailureReason(),
	))

	properties.Property("only MYDRA_TIMEOUT is not cacheable", prop.ForAll(
		func(r FailureReason) bool {
			return r.Cacheable() == (r != FailureMydraTimeout)
		},
		genFailureReason(),
	))

	properties.TestingRun(t)
}

// TestResultMergeTotality tests that merging keeps each unit in exactly one map.
func TestResultMergeTotality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("merged results never hold a unit twice", prop.ForAll(
		func(failed, succeeded []BuildUnit, reason FailureReason) bool {
			a := NewResult()
			for _, u := range failed {
				a.Fail(u, reason)
			}
			b := NewResult()
			for _, u := range succeeded {
				b.Successes[u] = ArtifactLocation(strings.TrimSuffix(string(u), ".drv"))
			}
			a.Merge(b)

			for u := range a.Successes {
				if _, ok := a.Failures[u]; ok {
					return false
				}
			}
			ws := make(WorkingSet)
			for _, u := range append(failed, succeeded...) {
				ws.Add(u)
			}
			return len(a.Missing(ws)) == 0
		},
		gen.SliceOf(genBuildUnit()),
		gen.SliceOf(genBuildUnit()),
		genFailureReason(),
	))

	properties.TestingRun(t)
}

func TestParseFailureReason_Unknown(t *testing.T) {
	if _, err := ParseFailureReason("EXPLODED"); err == nil {
		t.Fatal("ParseFailureReason should reject unknown reasons")
	}
}

func TestBuildUnitNames(t *testing.T) {
	hash := strings.Repeat("0", 32)
	tests := []struct {
		unit BuildUnit
		base string
		name string
	}{
		{BuildUnit("/nix/store/" + hash + "-hello-2.12.drv"), hash + "-hello-2.12.drv", "hello-2.12"},
		{BuildUnit("/nix/store/" + hash + "-python3.9-numpy-1.21.0.drv"), hash + "-python3.9-numpy-1.21.0.drv", "python3.9-numpy-1.21.0"},
	}

	for _, tt := range tests {
		if got := tt.unit.Base(); got != tt.base {
			t.Errorf("Base(%s) = %q, want %q", tt.unit, got, tt.base)
		}
		if got := tt.unit.Name(); got != tt.name {
			t.Errorf("Name(%s) = %q, want %q", tt.unit, got, tt.name)
		}
	}

	loc := ArtifactLocation("/nix/store/" + hash + "-hello-2.12")
	if loc.Name() != "hello-2.12" {
		t.Errorf("ArtifactLocation.Name() = %q, want %q", loc.Name(), "hello-2.12")
	}
}

func TestIsStorePath(t *testing.T) {
	hash := strings.Repeat("1", 32)
	tests := []struct {
		path string
		want bool
	}{
		{"/nix/store/" + hash + "-hello.drv", true},
		{"/nix/store/" + hash + "-hello", true},
		{"/nix/store/short-hello", false},
		{"/tmp/" + hash + "-hello", false},
		{"/nix/store/" + hash + "-hello/bin/hello", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsStorePath("/nix/store", tt.path); got != tt.want {
			t.Errorf("IsStorePath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWorkingSetAdd(t *testing.T) {
	ws := WorkingSet{"/nix/store/a.drv": "hello"}
	if ws.Add("/nix/store/a.drv") {
		t.Error("Add should not replace an existing unit")
	}
	if ws["/nix/store/a.drv"] != "hello" {
		t.Error("Add must keep the existing attribute")
	}
	if !ws.Add("/nix/store/b.drv") {
		t.Error("Add should insert a new unit")
	}
	if got := ws.Units(); len(got) != 2 || got[0] != "/nix/store/a.drv" {
		t.Errorf("Units() = %v", got)
	}
}
