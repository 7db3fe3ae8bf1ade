package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	builderrors "github.com/narvanalabs/mydra/internal/builder/errors"
	"github.com/narvanalabs/mydra/internal/fsutil"
	"github.com/narvanalabs/mydra/internal/models"
)

// FileName is the name of the failure cache document inside the cache directory.
const FileName = "mydra-failures.json"

const (
	defaultLockRetryDelay = 100 * time.Millisecond
	defaultLockTimeout    = 30 * time.Second
)

// FailureCache is a persistent map from build unit to the reason it failed.
// Entries are only ever added; a unit in the cache is treated as failed
// without being rebuilt.
type FailureCache struct {
	path string
	lock *flock.Flock

	// mu protects entries and pending.
	mu sync.RWMutex
	// entries holds every known failure, loaded and recorded.
	entries map[models.BuildUnit]models.FailureReason
	// pending holds failures recorded since the last flush.
	pending map[models.BuildUnit]models.FailureReason

	lockRetryDelay time.Duration
	lockTimeout    time.Duration
	logger         *slog.Logger
}

// Option is a functional option for configuring a FailureCache.
type Option func(*FailureCache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *FailureCache) {
		c.logger = logger
	}
}

// WithLockTimeout bounds how long Open and Flush wait for the file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(c *FailureCache) {
		c.lockTimeout = d
	}
}

// Open loads the failure cache at path. A missing file is an empty cache.
// The file is read under an advisory lock shared with other invocations.
func Open(ctx context.Context, path string, opts ...Option) (*FailureCache, error) {
	c := &FailureCache{
		path:           path,
		lock:           flock.New(path + ".lock"),
		entries:        make(map[models.BuildUnit]models.FailureReason),
		pending:        make(map[models.BuildUnit]models.FailureReason),
		lockRetryDelay: defaultLockRetryDelay,
		lockTimeout:    defaultLockTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, builderrors.NewCacheIOError(fmt.Errorf("creating cache directory: %w", err))
	}

	err := c.withLock(ctx, func() error {
		entries, err := c.read()
		if err != nil {
			return err
		}
		c.entries = entries
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("failure cache loaded", "path", path, "entries", len(c.entries))
	return c, nil
}

// Path returns the location of the cache document.
func (c *FailureCache) Path() string {
	return c.path
}

// Lookup returns the cached failure reason of unit.
func (c *FailureCache) Lookup(unit models.BuildUnit) (models.FailureReason, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	reason, ok := c.entries[unit]
	return reason, ok
}

// Record adds a failure, replacing an earlier reason for the same unit.
// MYDRA_TIMEOUT is silently ignored, since a missed deadline says nothing
// about the unit itself.
func (c *FailureCache) Record(unit models.BuildUnit, reason models.FailureReason) error {
	if unit == "" {
		return ErrEmptyUnit
	}
	if !reason.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	if !reason.Cacheable() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[unit]; ok && existing == reason {
		return nil
	}
	c.entries[unit] = reason
	c.pending[unit] = reason
	return nil
}

// Len returns the number of known failures.
func (c *FailureCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a copy of every known failure.
func (c *FailureCache) Entries() map[models.BuildUnit]models.FailureReason {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[models.BuildUnit]models.FailureReason, len(c.entries))
	for u, r := range c.entries {
		out[u] = r
	}
	return out
}

// Flush writes the cache to disk. Under the lock it re-reads the document,
// so failures recorded meanwhile by other invocations are kept, then applies
// the pending records over it and replaces the file atomically.
func (c *FailureCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.withLock(ctx, func() error {
		onDisk, err := c.read()
		if err != nil {
			return err
		}
		for u, r := range c.pending {
			onDisk[u] = r
		}
		if err := c.write(onDisk); err != nil {
			return err
		}
		c.entries = onDisk
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Debug("failure cache flushed",
		"path", c.path,
		"recorded", len(c.pending),
		"entries", len(c.entries),
	)
	c.pending = make(map[models.BuildUnit]models.FailureReason)
	return nil
}

// withLock runs fn while holding the exclusive file lock.
func (c *FailureCache) withLock(ctx context.Context, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()

	locked, err := c.lock.TryLockContext(lockCtx, c.lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return builderrors.NewCacheIOError(ErrLockTimeout)
		}
		return builderrors.NewCacheIOError(fmt.Errorf("locking %s: %w", c.lock.Path(), err))
	}
	if !locked {
		return builderrors.NewCacheIOError(ErrLockTimeout)
	}
	defer func() {
		if err := c.lock.Unlock(); err != nil {
			c.logger.Warn("failed to release failure cache lock", "error", err)
		}
	}()

	return fn()
}

// read decodes the document on disk. Reasons are parsed leniently so that
// documents written by older releases still load; unknown reasons are skipped.
func (c *FailureCache) read() (map[models.BuildUnit]models.FailureReason, error) {
	entries := make(map[models.BuildUnit]models.FailureReason)

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, builderrors.NewCacheIOError(fmt.Errorf("reading %s: %w", c.path, err))
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, builderrors.NewCacheIOError(fmt.Errorf("decoding %s: %w", c.path, err))
	}

	for unit, s := range raw {
		reason, err := models.ParseFailureReason(s)
		if err != nil {
			c.logger.Warn("skipping cache entry with unknown reason", "unit", unit, "reason", s)
			continue
		}
		if !reason.Cacheable() {
			continue
		}
		entries[models.BuildUnit(unit)] = reason
	}
	return entries, nil
}

// write replaces the document with entries, indented for hand editing.
func (c *FailureCache) write(entries map[models.BuildUnit]models.FailureReason) error {
	raw := make(map[string]string, len(entries))
	for u, r := range entries {
		raw[string(u)] = r.String()
	}

	data, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return builderrors.NewCacheIOError(fmt.Errorf("encoding cache: %w", err))
	}

	if err := fsutil.WriteFileAtomic(c.path, append(data, '\n')); err != nil {
		return builderrors.NewCacheIOError(err)
	}
	return nil
}
