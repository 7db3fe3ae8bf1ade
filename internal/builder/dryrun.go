package builder

import (
	"regexp"
	"strings"

	builderrors "github.com/narvanalabs/mydra/internal/builder/errors"
	"github.com/narvanalabs/mydra/internal/models"
)

// Section headers of the `nix-store --realize --dry-run` report. Older Nix
// prints "these derivations will be built:", newer versions add a count or
// use the singular form.
var (
	dryRunBuildHeader = regexp.MustCompile(`\b(?:these(?: \d+)?|this) derivations? will be built\b`)
	dryRunFetchHeader = regexp.MustCompile(`\b(?:these(?: \d+)?|this) paths? will be fetched\b`)
)

// ParseDryRun parses a dry run report. The format is a strict contract: any
// non-blank line that is neither a section header nor a store path under
// storeDir is a fatal parse error, as is a path before the first header.
func ParseDryRun(storeDir, output string) (*models.DryRunReport, error) {
	report := &models.DryRunReport{}
	prefix := strings.TrimSuffix(storeDir, "/") + "/"

	const (
		sectionNone = iota
		sectionBuild
		sectionFetch
	)
	section := sectionNone

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case dryRunFetchHeader.MatchString(line):
			section = sectionFetch
		case dryRunBuildHeader.MatchString(line):
			section = sectionBuild
		case strings.HasPrefix(line, prefix):
			switch section {
			case sectionBuild:
				report.ToBuild = append(report.ToBuild, models.BuildUnit(line))
			case sectionFetch:
				report.ToFetch = append(report.ToFetch, models.ArtifactLocation(line))
			default:
				return nil, builderrors.NewDryRunParseError(line)
			}
		default:
			return nil, builderrors.NewDryRunParseError(line)
		}
	}

	return report, nil
}
