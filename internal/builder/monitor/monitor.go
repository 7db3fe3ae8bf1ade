package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	builderrors "github.com/narvanalabs/mydra/internal/builder/errors"
	"github.com/narvanalabs/mydra/internal/models"
)

// Process is a running batch build whose combined output can be read.
type Process interface {
	io.Reader
	// Kill terminates the process immediately.
	Kill() error
	// Wait waits for the process to exit.
	Wait() error
	// Close releases the output stream. Pending reads return an error.
	Close() error
}

// BatchBuilder starts one long-running build of all units.
type BatchBuilder interface {
	StartBuild(ctx context.Context, units []models.BuildUnit) (Process, error)
}

// DryRunner reports what realizing units would require, without building.
type DryRunner interface {
	DryRun(ctx context.Context, units []models.BuildUnit) (*models.DryRunReport, error)
}

// Realizer returns the output locations of already built units, one per unit
// in the order requested.
type Realizer interface {
	Realize(ctx context.Context, units []models.BuildUnit) ([]models.ArtifactLocation, error)
}

// Monitor drives a batch build and turns its output into a build result.
type Monitor struct {
	builder   BatchBuilder
	dryRunner DryRunner
	realizer  Realizer
	output    io.Writer
	logger    *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithOutput sets where the builder's raw progress stream is copied.
// Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(m *Monitor) {
		m.output = w
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// New creates a Monitor.
func New(b BatchBuilder, d DryRunner, r Realizer, opts ...Option) *Monitor {
	m := &Monitor{
		builder:   b,
		dryRunner: d,
		realizer:  r,
		output:    os.Stdout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.output == nil {
		m.output = io.Discard
	}
	return m
}

// Run builds units and returns one outcome per unit. Units that no failure
// line mentions by the end of the stream succeeded. A nil deadline means the
// build may run until the builder exits.
//
// When the deadline fires, the builder is killed and the units believed to
// have succeeded are checked with a dry run. Units still to build, and units
// whose outputs are still to fetch, are marked MYDRA_TIMEOUT. The remaining successes are realized, and a realize
// call that does not return exactly one location per unit is a fatal error.
func (m *Monitor) Run(ctx context.Context, units []models.BuildUnit, deadline *time.Time) (*models.Result, error) {
	result := models.NewResult()
	if len(units) == 0 {
		return result, nil
	}

	runCtx := ctx
	if deadline != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, *deadline)
		defer cancel()
	}

	m.logger.Info("starting batch build", "units", len(units), "deadline", deadline)

	proc, err := m.builder.StartBuild(ctx, units)
	if err != nil {
		return nil, builderrors.NewBuilderStartError(err)
	}

	lines := make(chan string, 64)
	done := make(chan error, 1)
	go scanLines(proc, m.output, lines, done)

	timedOut := false
read:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break read
			}
			m.classify(result, line)
		case <-runCtx.Done():
			if ctx.Err() != nil {
				m.stop(proc, lines)
				return nil, ctx.Err()
			}
			m.logger.Warn("build deadline reached, killing builder")
			timedOut = true
			break read
		}
	}

	if timedOut {
		m.stop(proc, lines)
	} else {
		if err := <-done; err != nil && !errors.Is(err, io.EOF) {
			m.logger.Debug("builder stream ended", "error", err)
		}
		if err := proc.Wait(); err != nil {
			m.logger.Debug("builder exited", "error", err)
		}
		proc.Close()
	}

	succeeded := make(map[models.BuildUnit]bool, len(units))
	for _, u := range units {
		if _, failed := result.Failures[u]; !failed {
			succeeded[u] = true
		}
	}

	if timedOut && len(succeeded) > 0 {
		report, err := m.dryRunner.DryRun(ctx, sortedKeys(succeeded))
		if err != nil {
			return nil, err
		}
		pending, unowned := report.PendingUnits(units)
		for _, u := range pending {
			if result.Fail(u, models.FailureMydraTimeout) {
				m.logger.Debug("unit unfinished at deadline", "unit", u)
			}
			delete(succeeded, u)
		}
		for _, p := range unowned {
			m.logger.Debug("fetch path has no unit in this build", "path", p)
		}
	}

	if err := m.realize(ctx, result, sortedKeys(succeeded)); err != nil {
		return nil, err
	}

	m.logger.Info("batch build finished",
		"succeeded", len(result.Successes),
		"failed", len(result.Failures),
		"timed_out", timedOut,
	)
	return result, nil
}

// classify applies the outcomes of one line. The first outcome recorded for
// a unit wins.
func (m *Monitor) classify(result *models.Result, line string) {
	for _, c := range Classify(line) {
		if result.Fail(c.Unit, c.Reason) {
			m.logger.Debug("unit failed",
				"unit", c.Unit,
				"reason", c.Reason,
				"rule", c.Rule,
			)
		}
	}
}

// stop kills the builder and drains the reader goroutine.
func (m *Monitor) stop(proc Process, lines <-chan string) {
	if err := proc.Kill(); err != nil {
		m.logger.Warn("failed to kill builder", "error", err)
	}
	proc.Close()
	for range lines {
	}
	if err := proc.Wait(); err != nil {
		m.logger.Debug("builder exited", "error", err)
	}
}

// realize records the locations of units as successes.
func (m *Monitor) realize(ctx context.Context, result *models.Result, units []models.BuildUnit) error {
	if len(units) == 0 {
		return nil
	}

	locations, err := m.realizer.Realize(ctx, units)
	if err != nil {
		return err
	}
	if len(locations) != len(units) {
		return builderrors.NewRealizeMismatchError(len(units), len(locations))
	}

	for i, u := range units {
		result.Successes[u] = locations[i]
	}
	return nil
}

func sortedKeys(set map[models.BuildUnit]bool) []models.BuildUnit {
	units := make([]models.BuildUnit, 0, len(set))
	for u := range set {
		units = append(units, u)
	}
	models.SortUnits(units)
	return units
}
