package builder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/mydra/internal/builder/cache"
	"github.com/narvanalabs/mydra/internal/builder/logarchive"
	"github.com/narvanalabs/mydra/internal/builder/metrics"
	"github.com/narvanalabs/mydra/internal/builder/monitor"
	"github.com/narvanalabs/mydra/internal/models"
	"github.com/narvanalabs/mydra/pkg/logger"
)

// Nix is every Nix operation a build pass needs.
type Nix interface {
	Evaluator
	Instantiator
	monitor.BatchBuilder
	monitor.DryRunner
	monitor.Realizer
	logarchive.LogFetcher
}

// OrchestratorConfig holds configuration for the orchestrator.
type OrchestratorConfig struct {
	// CachePath is the failure cache document.
	CachePath string
	// LogDir is where build logs are archived.
	LogDir string
	// Output receives the builder's raw progress stream.
	Output io.Writer
}

// BuildOptions controls one build pass.
type BuildOptions struct {
	// UseCache reports units found in the failure cache as failed without
	// building them.
	UseCache bool
	// WriteCache records the pass's failures in the failure cache.
	WriteCache bool
	// ArchiveLogs saves the build log of every unit with an outcome.
	ArchiveLogs bool
	// Deadline bounds the batch build. Nil means no deadline.
	Deadline *time.Time
}

// DefaultBuildOptions returns options that read and write the cache and
// archive logs, without a deadline.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		UseCache:    true,
		WriteCache:  true,
		ArchiveLogs: true,
	}
}

// Orchestrator runs build passes: it resolves attributes, expands the
// working set, consults the failure cache, supervises the batch build and
// persists what it learned.
type Orchestrator struct {
	cfg      *OrchestratorConfig
	nix      Nix
	resolver *Resolver
	archive  *logarchive.Archive
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. A nil recorder records nothing.
func NewOrchestrator(cfg *OrchestratorConfig, nix Nix, recorder *metrics.Recorder, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Orchestrator{
		cfg:      cfg,
		nix:      nix,
		resolver: NewResolver(nix, nix, log.With("component", "resolver")),
		archive:  logarchive.New(cfg.LogDir, nix, log.With("component", "logarchive")),
		recorder: recorder,
		logger:   log,
	}
}

// Instantiate resolves attrs from the package collection at collection into
// a working set.
func (o *Orchestrator) Instantiate(ctx context.Context, attrs []models.Attribute, collection string) (models.WorkingSet, error) {
	return o.resolver.Resolve(ctx, attrs, collection)
}

// Build runs one build pass over ws. ws is expanded in place with the
// dependencies that would have to be built, and every unit of the expanded
// set gets exactly one outcome in the result.
//
// Per-unit failures are part of the result. The returned error is reserved
// for failures that abort the whole pass.
func (o *Orchestrator) Build(ctx context.Context, ws models.WorkingSet, opts BuildOptions) (*models.Result, error) {
	start := time.Now()

	runID := logger.RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = logger.ContextWithRunID(ctx, runID)
	}
	log := o.logger.With("run_id", runID)

	if _, err := Expand(ctx, o.nix, ws, log); err != nil {
		return nil, err
	}
	o.recorder.SetWorkingSetSize(len(ws))

	var failures *cache.FailureCache
	if opts.UseCache || opts.WriteCache {
		var err error
		failures, err = cache.Open(ctx, o.cfg.CachePath, cache.WithLogger(log))
		if err != nil {
			return nil, err
		}
	}

	result := models.NewResult()
	var toBuild []models.BuildUnit
	for _, u := range ws.Units() {
		if opts.UseCache {
			if reason, ok := failures.Lookup(u); ok {
				result.Fail(u, reason)
				continue
			}
		}
		toBuild = append(toBuild, u)
	}
	o.recorder.IncCacheHits(len(result.Failures))

	log.Info("partitioned working set",
		"units", len(ws),
		"cached_failures", len(result.Failures),
		"to_build", len(toBuild),
	)

	mon := monitor.New(o.nix, o.nix, o.nix,
		monitor.WithOutput(o.cfg.Output),
		monitor.WithLogger(log.With("component", "monitor")),
	)
	built, err := mon.Run(ctx, toBuild, opts.Deadline)
	if err != nil {
		return nil, err
	}
	result.Merge(built)

	if missing := result.Missing(ws); len(missing) > 0 {
		return nil, fmt.Errorf("%d units have no outcome, first %s", len(missing), missing[0])
	}

	if opts.ArchiveLogs {
		if _, err := o.archive.ArchiveAll(ctx, result.Units()); err != nil {
			return nil, err
		}
	}

	if opts.WriteCache {
		if err := o.recordFailures(ctx, failures, result); err != nil {
			return nil, err
		}
	}

	if err := o.recorder.RecordResult(result); err != nil {
		log.Warn("failed to record metrics", "error", err)
	}
	o.recorder.ObserveBuildDuration(time.Since(start))

	log.Info("build pass finished",
		"succeeded", len(result.Successes),
		"failed", len(result.Failures),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

// recordFailures persists every cacheable failure of result.
func (o *Orchestrator) recordFailures(ctx context.Context, failures *cache.FailureCache, result *models.Result) error {
	for u, reason := range result.Failures {
		if err := failures.Record(u, reason); err != nil {
			return fmt.Errorf("recording failure of %s: %w", u, err)
		}
	}
	return failures.Flush(ctx)
}
