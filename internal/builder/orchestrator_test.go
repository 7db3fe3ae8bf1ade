package builder

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/mydra/internal/builder/cache"
	builderrors "github.com/narvanalabs/mydra/internal/builder/errors"
	"github.com/narvanalabs/mydra/internal/builder/metrics"
	"github.com/narvanalabs/mydra/internal/builder/nixtest"
	"github.com/narvanalabs/mydra/internal/models"
	"github.com/narvanalabs/mydra/pkg/logger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, nix *nixtest.MockNix) (*Orchestrator, *OrchestratorConfig) {
	t.Helper()
	dir := t.TempDir()
	cfg := &OrchestratorConfig{
		CachePath: filepath.Join(dir, "cache", cache.FileName),
		LogDir:    filepath.Join(dir, "logs"),
		Output:    io.Discard,
	}
	return NewOrchestrator(cfg, nix, metrics.NewRecorder(nil), discardLogger()), cfg
}

func instantiate(t *testing.T, o *Orchestrator, attrs ...models.Attribute) models.WorkingSet {
	t.Helper()
	ws, err := o.Instantiate(context.Background(), attrs, "/src/nixpkgs")
	require.NoError(t, err)
	return ws
}

func TestBuild_SingleUnitSucceeds(t *testing.T) {
	nix := nixtest.New()
	u1 := nix.AddPackage("pkgA", "pkgA-1.0", nixtest.Succeed)
	o, _ := newTestOrchestrator(t, nix)

	ws := instantiate(t, o, "pkgA")
	require.Equal(t, models.WorkingSet{u1: "pkgA"}, ws)

	result, err := o.Build(context.Background(), ws, DefaultBuildOptions())
	require.NoError(t, err)
	require.Equal(t, map[models.BuildUnit]models.ArtifactLocation{u1: nixtest.Location("pkgA-1.0")}, result.Successes)
	require.Empty(t, result.Failures)
}

func TestBuild_DependencyFailure(t *testing.T) {
	nix := nixtest.New()
	u2 := nix.AddPackage("", "dep-1.0", nixtest.FailBuilder)
	u1 := nix.AddPackage("pkgA", "pkgA-1.0", nixtest.Succeed, u2)
	o, _ := newTestOrchestrator(t, nix)

	ws := instantiate(t, o, "pkgA")
	result, err := o.Build(context.Background(), ws, DefaultBuildOptions())
	require.NoError(t, err)

	require.Empty(t, result.Successes)
	require.Equal(t, map[models.BuildUnit]models.FailureReason{
		u2: models.FailureBuilderFailed,
		u1: models.FailureDepFailed,
	}, result.Failures)

	require.Contains(t, ws, u2, "dependencies to be built join the working set")
	require.Equal(t, models.Attribute(""), ws[u2])
}

func TestBuild_DeadlineMarksUnfinishedUnits(t *testing.T) {
	nix := nixtest.New()
	u1 := nix.AddPackage("pkgA", "pkgA-1.0", nixtest.Hang)
	o, cfg := newTestOrchestrator(t, nix)

	ws := instantiate(t, o, "pkgA")
	opts := DefaultBuildOptions()
	deadline := time.Now().Add(500 * time.Millisecond)
	opts.Deadline = &deadline

	result, err := o.Build(context.Background(), ws, opts)
	require.NoError(t, err)
	require.Empty(t, result.Successes)
	require.Equal(t, map[models.BuildUnit]models.FailureReason{u1: models.FailureMydraTimeout}, result.Failures)

	c, err := cache.Open(context.Background(), cfg.CachePath)
	require.NoError(t, err)
	require.Equal(t, 0, c.Len(), "timeouts are never cached")
}

func TestBuild_CachedFailureSkipsBuilder(t *testing.T) {
	nix := nixtest.New()
	u2 := nix.AddPackage("", "dep-1.0", nixtest.FailBuilder)
	u1 := nix.AddPackage("pkgA", "pkgA-1.0", nixtest.Succeed, u2)
	o, cfg := newTestOrchestrator(t, nix)

	_, err := o.Build(context.Background(), instantiate(t, o, "pkgA"), DefaultBuildOptions())
	require.NoError(t, err)

	c, err := cache.Open(context.Background(), cfg.CachePath)
	require.NoError(t, err)
	reason, ok := c.Lookup(u2)
	require.True(t, ok)
	require.Equal(t, models.FailureBuilderFailed, reason)

	nix.BuildCalls = nil
	result, err := o.Build(context.Background(), instantiate(t, o, "pkgA"), DefaultBuildOptions())
	require.NoError(t, err)

	require.Equal(t, models.FailureBuilderFailed, result.Failures[u2])
	require.Equal(t, models.FailureDepFailed, result.Failures[u1])
	require.Empty(t, nix.BuildCalls, "every unit was answered from the cache")
}

func TestBuild_CachedDependencyIsNotPassedToBuilder(t *testing.T) {
	nix := nixtest.New()
	u2 := nix.AddPackage("", "dep-1.0", nixtest.FailBuilder)
	u1 := nix.AddPackage("pkgA", "pkgA-1.0", nixtest.Succeed, u2)
	o, cfg := newTestOrchestrator(t, nix)

	seeded, err := cache.Open(context.Background(), cfg.CachePath)
	require.NoError(t, err)
	require.NoError(t, seeded.Record(u2, models.FailureBuilderFailed))
	require.NoError(t, seeded.Flush(context.Background()))

	result, err := o.Build(context.Background(), instantiate(t, o, "pkgA"), DefaultBuildOptions())
	require.NoError(t, err)

	require.Equal(t, models.FailureBuilderFailed, result.Failures[u2])
	require.Len(t, nix.BuildCalls, 1)
	require.Equal(t, []models.BuildUnit{u1}, nix.BuildCalls[0])
}

func TestBuild_NoUseCacheRebuilds(t *testing.T) {
	nix := nixtest.New()
	u1 := nix.AddPackage("pkgA", "pkgA-1.0", nixtest.Succeed)
	o, cfg := newTestOrchestrator(t, nix)

	seeded, err := cache.Open(context.Background(), cfg.CachePath)
	require.NoError(t, err)
	require.NoError(t, seeded.Record(u1, models.FailureBuilderFailed))
	require.NoError(t, seeded.Flush(context.Background()))

	opts := DefaultBuildOptions()
	opts.UseCache = false
	result, err := o.Build(context.Background(), instantiate(t, o, "pkgA"), opts)
	require.NoError(t, err)
	require.Contains(t, result.Successes, u1)
}

func TestBuild_NoUseCacheUpdatesChangedReason(t *testing.T) {
	nix := nixtest.New()
	u1 := nix.AddPackage("pkgA", "pkgA-1.0", nixtest.FailBuilder)
	o, cfg := newTestOrchestrator(t, nix)
	ctx := context.Background()

	seeded, err := cache.Open(ctx, cfg.CachePath)
	require.NoError(t, err)
	require.NoError(t, seeded.Record(u1, models.FailureDepFailed))
	require.NoError(t, seeded.Flush(ctx))

	opts := DefaultBuildOptions()
	opts.UseCache = false
	result, err := o.Build(ctx, instantiate(t, o, "pkgA"), opts)
	require.NoError(t, err)
	require.Equal(t, models.FailureBuilderFailed, result.Failures[u1])

	c, err := cache.Open(ctx, cfg.CachePath)
	require.NoError(t, err)
	reason, ok := c.Lookup(u1)
	require.True(t, ok)
	require.Equal(t, models.FailureBuilderFailed, reason)
}

func TestBuild_NoWriteCache(t *testing.T) {
	nix := nixtest.New()
	nix.AddPackage("pkgA", "pkgA-1.0", nixtest.FailBuilder)
	o, cfg := newTestOrchestrator(t, nix)

	opts := DefaultBuildOptions()
	opts.WriteCache = false
	_, err := o.Build(context.Background(), instantiate(t, o, "pkgA"), opts)
	require.NoError(t, err)

	c, err := cache.Open(context.Background(), cfg.CachePath)
	require.NoError(t, err)
	require.Equal(t, 0, c.Len())
}

func TestBuild_ArchivesLogs(t *testing.T) {
	nix := nixtest.New()
	good := nix.AddPackage("good", "good-1.0", nixtest.Succeed)
	bad := nix.AddPackage("bad", "bad-1.0", nixtest.FailBuilder)
	o, _ := newTestOrchestrator(t, nix)

	_, err := o.Build(context.Background(), instantiate(t, o, "good", "bad"), DefaultBuildOptions())
	require.NoError(t, err)
	require.True(t, o.archive.Has(good))
	require.True(t, o.archive.Has(bad))

	opts := DefaultBuildOptions()
	opts.ArchiveLogs = false
	nix.LogCalls = nil
	_, err = o.Build(context.Background(), instantiate(t, o, "good"), opts)
	require.NoError(t, err)
	require.Empty(t, nix.LogCalls)
}

func TestBuild_KeepsRunIDFromContext(t *testing.T) {
	nix := nixtest.New()
	nix.AddPackage("pkgA", "pkgA-1.0", nixtest.Succeed)
	o, _ := newTestOrchestrator(t, nix)

	ctx := logger.ContextWithRunID(context.Background(), "run-1")
	_, err := o.Build(ctx, instantiate(t, o, "pkgA"), DefaultBuildOptions())
	require.NoError(t, err)
}

func TestBuild_RealizeMismatchIsFatal(t *testing.T) {
	nix := nixtest.New()
	nix.AddPackage("pkgA", "pkgA-1.0", nixtest.Succeed)
	o, _ := newTestOrchestrator(t, nix)
	nix.DropRealized = 1

	_, err := o.Build(context.Background(), instantiate(t, o, "pkgA"), DefaultBuildOptions())
	require.Equal(t, builderrors.CodeRealizeMismatch, builderrors.CodeOf(err))
}

func TestInstantiate_EvaluationFailureIsDropped(t *testing.T) {
	nix := nixtest.New()
	u1 := nix.AddPackage("pkgA", "pkgA-1.0", nixtest.Succeed)
	o, _ := newTestOrchestrator(t, nix)

	ws := instantiate(t, o, "pkgA", "bogus.pkg")
	require.Equal(t, models.WorkingSet{u1: "pkgA"}, ws)

	result, err := o.Build(context.Background(), ws, DefaultBuildOptions())
	require.NoError(t, err)
	for u := range result.Successes {
		require.NotEqual(t, models.Attribute("bogus.pkg"), ws[u])
	}
	require.Len(t, result.Units(), 1)
}
