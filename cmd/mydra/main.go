// Package main provides the mydra command line.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/narvanalabs/mydra/pkg/config"
	"github.com/narvanalabs/mydra/pkg/logger"
)

// Globals carries state shared by every command.
type Globals struct {
	Config *config.Config
	Log    *logger.Logger
}

// CLI is the command line definition.
type CLI struct {
	LogLevel string `name:"log-level" help:"Log level (debug, info, warn, error). Overrides MYDRA_LOG_LEVEL."`
	LogJSON  bool   `name:"log-json" help:"Log as JSON. Overrides MYDRA_LOG_JSON."`

	Build  BuildCmd  `cmd:"" help:"Build the attributes of a target file against a package collection"`
	Report ReportCmd `cmd:"" help:"Render recorded build reports into a static site"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("mydra"),
		kong.Description("Batch Nix build orchestrator with a persistent failure cache."),
		kong.UsageOnError(),
	)

	log := logger.Default()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := cfg.LogLevel
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	log = logger.New(logger.ParseLevel(level), cfg.LogJSON || cli.LogJSON)
	slog.SetDefault(log.Logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(&Globals{Config: cfg, Log: log}); err != nil {
		log.Error("command failed", "command", kctx.Command(), "error", err)
		cancel()
		os.Exit(1)
	}
}
