package builder

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	builderrors "github.com/narvanalabs/mydra/internal/builder/errors"
	"github.com/narvanalabs/mydra/internal/models"
)

const storeDir = "/nix/store"

func storePath(n int, name string) string {
	return fmt.Sprintf("%s/%032d-%s", storeDir, n, name)
}

func TestParseDryRun(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		wantBuild int
		wantFetch int
	}{
		{
			name: "classic headers",
			output: "these derivations will be built:\n  " + storePath(1, "a.drv") + "\n  " + storePath(2, "b.drv") +
				"\nthese paths will be fetched (1.20 MiB download, 5.00 MiB unpacked):\n  " + storePath(3, "c") + "\n",
			wantBuild: 2,
			wantFetch: 1,
		},
		{
			name:      "counted headers",
			output:    "these 2 derivations will be built:\n  " + storePath(1, "a.drv") + "\n  " + storePath(2, "b.drv") + "\n",
			wantBuild: 2,
		},
		{
			name:      "singular headers",
			output:    "this derivation will be built:\n  " + storePath(1, "a.drv") + "\nthis path will be fetched (0.10 MiB download):\n  " + storePath(3, "c") + "\n",
			wantBuild: 1,
			wantFetch: 1,
		},
		{
			name:   "nothing to do",
			output: "\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := ParseDryRun(storeDir, tt.output)
			require.NoError(t, err)
			require.Len(t, report.ToBuild, tt.wantBuild)
			require.Len(t, report.ToFetch, tt.wantFetch)
		})
	}
}

func TestParseDryRun_Strict(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"path before header", storePath(1, "a.drv") + "\n"},
		{"unknown line", "these derivations will be built:\n  " + storePath(1, "a.drv") + "\nwarning: something odd\n"},
		{"foreign store", "these derivations will be built:\n  /gnu/store/abc-a.drv\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDryRun(storeDir, tt.output)
			require.Error(t, err)
			require.Equal(t, builderrors.CodeDryRunParse, builderrors.CodeOf(err))
			require.Contains(t, err.Error(), "dry-run parsing failed")
		})
	}
}

// TestParseDryRunIdempotence tests that a rendered report parses back to the
// same sets, and that parsing the same output twice agrees.
func TestParseDryRunIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("parse(render(report)) == report", prop.ForAll(
		func(build, fetch []int) bool {
			var b strings.Builder
			want := &models.DryRunReport{}
			if len(build) > 0 {
				fmt.Fprintf(&b, "these %d derivations will be built:\n", len(build))
				for _, n := range build {
					p := storePath(n, "pkg.drv")
					fmt.Fprintf(&b, "  %s\n", p)
					want.ToBuild = append(want.ToBuild, models.BuildUnit(p))
				}
			}
			if len(fetch) > 0 {
				fmt.Fprintf(&b, "these %d paths will be fetched (0.00 MiB download):\n", len(fetch))
				for _, n := range fetch {
					p := storePath(n, "pkg")
					fmt.Fprintf(&b, "  %s\n", p)
					want.ToFetch = append(want.ToFetch, models.ArtifactLocation(p))
				}
			}

			first, err := ParseDryRun(storeDir, b.String())
			if err != nil {
				return false
			}
			second, err := ParseDryRun(storeDir, b.String())
			if err != nil {
				return false
			}
			return fmt.Sprint(first) == fmt.Sprint(want) && fmt.Sprint(second) == fmt.Sprint(first)
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
