package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/mydra/internal/builder"
	"github.com/narvanalabs/mydra/internal/builder/metrics"
	"github.com/narvanalabs/mydra/internal/report"
	"github.com/narvanalabs/mydra/internal/targets"
	"github.com/narvanalabs/mydra/internal/terminal"
	"github.com/narvanalabs/mydra/pkg/logger"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Nixpkgs      string         `short:"f" required:"" type:"existingdir" help:"Path to the package collection checkout"`
	Targets      string         `arg:"" type:"existingfile" help:"Target list file (YAML)"`
	Timeout      *time.Duration `help:"Wall-clock limit for the batch build, e.g. 2h. Defaults to MYDRA_DEFAULT_TIMEOUT; 0 means none."`
	NoUseCache   bool           `name:"no-use-cache" help:"Build units even if the failure cache says they fail"`
	NoWriteCache bool           `name:"no-write-cache" help:"Do not record this run's failures"`
	NoLogs       bool           `name:"no-logs" help:"Do not archive build logs"`
	ReportDir    string         `name:"report-dir" help:"Where to write the JSON report. Defaults to the cache directory."`
	LogURL       string         `name:"log-url" help:"CI log URL recorded in the report"`
	YAMLURL      string         `name:"yaml-url" help:"Target file URL recorded in the report"`
}

func (b *BuildCmd) Run(ctx context.Context, g *Globals) error {
	cfg := g.Config

	collection, err := filepath.Abs(b.Nixpkgs)
	if err != nil {
		return fmt.Errorf("resolving collection path: %w", err)
	}

	file, err := targets.Load(b.Targets)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	ctx = logger.ContextWithRunID(ctx, runID)
	ctx = logger.ContextWithCollection(ctx, collection)
	log := g.Log.WithContext(ctx)

	nix := builder.NewNixClient(&builder.NixClientConfig{
		NixBin:         cfg.Nix.Bin,
		StoreBin:       cfg.Nix.StoreBin,
		InstantiateBin: cfg.Nix.InstantiateBin,
		StoreDir:       cfg.Nix.StoreDir,
	}, log.WithComponent("nix").Logger)

	recorder := metrics.NewRecorder(nil)
	orch := builder.NewOrchestrator(&builder.OrchestratorConfig{
		CachePath: cfg.FailureCachePath(),
		LogDir:    cfg.LogDir,
		Output:    os.Stdout,
	}, nix, recorder, log.Logger)

	ws, err := orch.Instantiate(ctx, file.Attributes(), collection)
	if err != nil {
		return err
	}

	opts := builder.DefaultBuildOptions()
	opts.UseCache = !b.NoUseCache
	opts.WriteCache = !b.NoWriteCache
	opts.ArchiveLogs = !b.NoLogs

	opts.Deadline = deadline(time.Now(), b.Timeout, cfg.DefaultTimeout)

	result, err := orch.Build(ctx, ws, opts)
	if err != nil {
		return err
	}

	fmt.Println()
	if err := report.Table(os.Stdout, ws, result, terminal.IsTerminal(os.Stdout)); err != nil {
		return err
	}
	if err := report.Summary(os.Stdout, result); err != nil {
		return err
	}

	commit, err := report.ReadCommit(collection)
	if err != nil {
		if !errors.Is(err, report.ErrNoCommit) {
			log.Warn("could not read collection commit", "error", err)
		}
		commit = nil
	}

	rep := report.New(runID, ws, result, commit)
	rep.LogURL = b.LogURL
	rep.YAMLURL = b.YAMLURL

	dir := b.ReportDir
	if dir == "" {
		dir = cfg.CacheDir
	}
	path, err := report.WriteJSON(dir, rep)
	if err != nil {
		return err
	}
	log.Info("report written", "path", path)

	if cfg.MetricsTextfile != "" {
		if err := recorder.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.Warn("failed to write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
		}
	}
	return nil
}

// deadline returns the end of the build window starting at now. An explicit
// flag, zero included, takes precedence over the configured default. A zero
// window means no deadline.
func deadline(now time.Time, flag *time.Duration, fallback time.Duration) *time.Time {
	timeout := fallback
	if flag != nil {
		timeout = *flag
	}
	if timeout <= 0 {
		return nil
	}
	d := now.Add(timeout)
	return &d
}
