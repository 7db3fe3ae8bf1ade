// Package config provides environment-based configuration for mydra.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MYDRA_"

// Config holds all configuration for mydra.
type Config struct {
	// CacheDir holds the failure cache document and build reports.
	CacheDir string `env:"CACHE_DIR"`
	// LogDir holds archived build logs, one file per derivation.
	LogDir string `env:"LOG_DIR"`

	// Nix executables
	Nix NixConfig `envPrefix:"NIX_"`

	// DefaultTimeout bounds a build pass when no --timeout is given. Zero means unbounded.
	DefaultTimeout time.Duration `env:"DEFAULT_TIMEOUT" envDefault:"0s"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`

	// MetricsTextfile is an optional node-exporter textfile path written after each build.
	MetricsTextfile string `env:"METRICS_TEXTFILE"`
}

// NixConfig holds paths to the Nix tools.
type NixConfig struct {
	Bin            string `env:"BIN" envDefault:"nix"`
	StoreBin       string `env:"STORE_BIN" envDefault:"nix-store"`
	InstantiateBin string `env:"INSTANTIATE_BIN" envDefault:"nix-instantiate"`
	StoreDir       string `env:"STORE_DIR" envDefault:"/nix/store"`
}

// FailureCachePath returns the path of the failure cache document.
func (c *Config) FailureCachePath() string {
	return filepath.Join(c.CacheDir, "mydra-failures.json")
}

// Load reads configuration from environment variables, after loading an
// optional .env file from the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := parse(os.Environ())
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate, useful for testing.
func LoadWithDefaults() *Config {
	cfg, err := parse(os.Environ())
	if err != nil {
		cfg, _ = parse(nil)
	}
	return cfg
}

// parse reads the configuration from environ and fills the cache directories
// from the user cache directory when unset.
func parse(environ []string) (*Config, error) {
	var cfg Config

	err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.CacheDir == "" || cfg.LogDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = filepath.Join(os.TempDir(), "mydra-cache")
		}
		if cfg.CacheDir == "" {
			cfg.CacheDir = filepath.Join(base, "mydra")
		}
		if cfg.LogDir == "" {
			cfg.LogDir = filepath.Join(base, "mydra-logs")
		}
	}

	return &cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if !filepath.IsAbs(c.CacheDir) {
		return fmt.Errorf("MYDRA_CACHE_DIR must be absolute, got %q", c.CacheDir)
	}
	if !filepath.IsAbs(c.LogDir) {
		return fmt.Errorf("MYDRA_LOG_DIR must be absolute, got %q", c.LogDir)
	}
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("MYDRA_DEFAULT_TIMEOUT must not be negative")
	}
	if c.Nix.StoreDir == "" {
		return fmt.Errorf("MYDRA_NIX_STORE_DIR is required")
	}
	return nil
}
