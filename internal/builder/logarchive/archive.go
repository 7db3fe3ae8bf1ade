// Package logarchive keeps a local copy of build logs, one file per derivation.
package logarchive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	builderrors "github.com/narvanalabs/mydra/internal/builder/errors"
	"github.com/narvanalabs/mydra/internal/fsutil"
	"github.com/narvanalabs/mydra/internal/models"
)

// LogFetcher returns the stored build log of a unit.
type LogFetcher interface {
	FetchLog(ctx context.Context, unit models.BuildUnit) (string, error)
}

// Archive stores build logs under a directory.
type Archive struct {
	dir     string
	fetcher LogFetcher
	logger  *slog.Logger
}

// New creates an Archive rooted at dir.
func New(dir string, fetcher LogFetcher, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		dir:     dir,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Dir returns the archive directory.
func (a *Archive) Dir() string {
	return a.dir
}

// Path returns where the log of unit is kept.
func (a *Archive) Path(unit models.BuildUnit) string {
	return filepath.Join(a.dir, unit.Base())
}

// Has reports whether the log of unit is already archived.
func (a *Archive) Has(unit models.BuildUnit) bool {
	_, err := os.Stat(a.Path(unit))
	return err == nil
}

// Archive saves the build log of unit unless it is already archived. It
// reports whether a new log was written. A log that cannot be fetched is
// skipped without error; only local I/O failures are returned.
func (a *Archive) Archive(ctx context.Context, unit models.BuildUnit) (bool, error) {
	path := a.Path(unit)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}

	log, err := a.fetcher.FetchLog(ctx, unit)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		a.logger.Debug("no build log archived",
			"unit", unit,
			"error", builderrors.NewLogFetchError(err),
		)
		return false, nil
	}

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return false, fmt.Errorf("creating log directory: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, []byte(log)); err != nil {
		return false, err
	}
	return true, nil
}

// ArchiveAll archives the log of every unit and returns how many were written.
func (a *Archive) ArchiveAll(ctx context.Context, units []models.BuildUnit) (int, error) {
	written := 0
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		ok, err := a.Archive(ctx, u)
		if err != nil {
			return written, err
		}
		if ok {
			written++
		}
	}

	a.logger.Info("archived build logs",
		"units", len(units),
		"written", written,
		"dir", a.dir,
	)
	return written, nil
}
