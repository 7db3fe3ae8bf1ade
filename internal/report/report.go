// Package report renders build pass results: a terminal table, a JSON record
// per pass, and a static HTML site over the recorded passes.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/narvanalabs/mydra/internal/fsutil"
	"github.com/narvanalabs/mydra/internal/models"
)

// StatusSuccess is the status of a unit that produced an artifact. Failed
// units carry their failure reason as status.
const StatusSuccess = "SUCCESS"

const filePrefix = "build-"

// ErrNoCommit is returned when the package collection is not a git checkout.
var ErrNoCommit = errors.New("package collection is not a git checkout")

// CommitInfo identifies the package collection revision a pass built.
type CommitInfo struct {
	Commit        string    `json:"commit"`
	CommittedDate time.Time `json:"committed_date"`
	Summary       string    `json:"summary,omitempty"`
}

// Row is the outcome of one unit.
type Row struct {
	Attr      models.Attribute        `json:"attr"`
	DrvPath   models.BuildUnit        `json:"drvpath"`
	Status    string                  `json:"status"`
	StorePath models.ArtifactLocation `json:"storepath,omitempty"`
}

// Report is the persisted record of one build pass.
type Report struct {
	RunID        string      `json:"run_id"`
	Timestamp    time.Time   `json:"timestamp"`
	Nixpkgs      *CommitInfo `json:"nixpkgs,omitempty"`
	LogURL       string      `json:"log_url,omitempty"`
	YAMLURL      string      `json:"yaml_url,omitempty"`
	BuildResults []Row       `json:"build_results"`
}

// New builds the report of a pass over ws.
func New(runID string, ws models.WorkingSet, result *models.Result, commit *CommitInfo) *Report {
	return &Report{
		RunID:        runID,
		Timestamp:    time.Now().UTC(),
		Nixpkgs:      commit,
		BuildResults: Rows(ws, result),
	}
}

// Rows returns one row per unit of result: successes first, then failures,
// each sorted by attribute and then unit.
func Rows(ws models.WorkingSet, result *models.Result) []Row {
	rows := make([]Row, 0, len(result.Successes)+len(result.Failures))
	for u, loc := range result.Successes {
		rows = append(rows, Row{Attr: ws[u], DrvPath: u, Status: StatusSuccess, StorePath: loc})
	}
	for u, reason := range result.Failures {
		rows = append(rows, Row{Attr: ws[u], DrvPath: u, Status: reason.String()})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		si, sj := rows[i].Status == StatusSuccess, rows[j].Status == StatusSuccess
		if si != sj {
			return si
		}
		if rows[i].Attr != rows[j].Attr {
			return rows[i].Attr < rows[j].Attr
		}
		return rows[i].DrvPath < rows[j].DrvPath
	})
	return rows
}

// ReadCommit returns the HEAD commit of the git checkout containing path.
func ReadCommit(path string) (*CommitInfo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNoCommit
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", ref.Hash(), err)
	}

	summary, _, _ := strings.Cut(strings.TrimSpace(commit.Message), "\n")
	return &CommitInfo{
		Commit:        commit.Hash.String(),
		CommittedDate: commit.Committer.When,
		Summary:       summary,
	}, nil
}

// FileName returns the report's file name, keyed by commit when known.
func (r *Report) FileName() string {
	key := r.RunID
	if r.Nixpkgs != nil && r.Nixpkgs.Commit != "" {
		key = r.Nixpkgs.Commit
	}
	return filePrefix + key + ".json"
}

// FailedAttributes returns the attributes whose own build or dependencies
// failed, sorted. Expanded units without an attribute are left out.
func (r *Report) FailedAttributes() []models.Attribute {
	var out []models.Attribute
	for _, row := range r.BuildResults {
		if row.Attr == "" {
			continue
		}
		if row.Status == models.FailureBuilderFailed.String() || row.Status == models.FailureDepFailed.String() {
			out = append(out, row.Attr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WriteJSON writes r into dir and returns the file path.
func WriteJSON(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}

	path := filepath.Join(dir, r.FileName())
	if err := fsutil.WriteFileAtomic(path, append(data, '\n')); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

// LoadAll reads every report in dir, newest commit first.
func LoadAll(dir string) ([]*Report, error) {
	paths, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]*Report, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		var r Report
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", p, err)
		}
		reports = append(reports, &r)
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].date().After(reports[j].date())
	})
	return reports, nil
}

// date is the commit date, or the run time when no commit is known.
func (r *Report) date() time.Time {
	if r.Nixpkgs != nil && !r.Nixpkgs.CommittedDate.IsZero() {
		return r.Nixpkgs.CommittedDate
	}
	return r.Timestamp
}
