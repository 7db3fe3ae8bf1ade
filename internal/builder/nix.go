// Package builder resolves attributes to derivations and orchestrates batch
// Nix builds.
package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	builderrors "github.com/narvanalabs/mydra/internal/builder/errors"
	"github.com/narvanalabs/mydra/internal/builder/monitor"
	"github.com/narvanalabs/mydra/internal/models"
	"github.com/narvanalabs/mydra/internal/terminal"
)

// NixClient runs the Nix command line tools.
type NixClient struct {
	nixBin         string
	storeBin       string
	instantiateBin string
	storeDir       string
	logger         *slog.Logger

	// stdout is the terminal the user watches. Its tty-ness decides whether
	// the builder is asked for full build logs.
	stdout *os.File
}

// NixClientConfig holds configuration for the Nix client.
type NixClientConfig struct {
	NixBin         string
	StoreBin       string
	InstantiateBin string
	StoreDir       string
}

// DefaultNixClientConfig returns a NixClientConfig using the tools on PATH.
func DefaultNixClientConfig() *NixClientConfig {
	return &NixClientConfig{
		NixBin:         "nix",
		StoreBin:       "nix-store",
		InstantiateBin: "nix-instantiate",
		StoreDir:       "/nix/store",
	}
}

// NewNixClient creates a new NixClient.
func NewNixClient(cfg *NixClientConfig, logger *slog.Logger) *NixClient {
	if cfg == nil {
		cfg = DefaultNixClientConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NixClient{
		nixBin:         cfg.NixBin,
		storeBin:       cfg.StoreBin,
		instantiateBin: cfg.InstantiateBin,
		storeDir:       cfg.StoreDir,
		logger:         logger,
		stdout:         os.Stdout,
	}
}

// commandResult holds the captured output of a finished command.
type commandResult struct {
	Stdout string
	Stderr string
}

// run executes name with args and captures both streams. A non-zero exit is
// returned as an error alongside the captured output.
func (c *NixClient) run(ctx context.Context, name string, args ...string) (*commandResult, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("running command", "cmd", name, "args", len(args))
	err := cmd.Run()

	return &commandResult{Stdout: stdout.String(), Stderr: stderr.String()}, err
}

// Evaluate evaluates a Nix function expression strictly to JSON, applying it
// to args as --argstr pairs, and decodes the value into out.
func (c *NixClient) Evaluate(ctx context.Context, expr string, args map[string]string, out any) error {
	cmdArgs := []string{"--eval", "--strict", "--json", "-E", expr}
	for _, k := range argNames(args) {
		cmdArgs = append(cmdArgs, "--argstr", k, args[k])
	}

	res, err := c.run(ctx, c.instantiateBin, cmdArgs...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return builderrors.NewEvaluationError(err, "")
		}
		return fmt.Errorf("nix-instantiate --eval: %w: %s", err, lastLine(res.Stderr))
	}

	if err := json.Unmarshal([]byte(res.Stdout), out); err != nil {
		return fmt.Errorf("decoding evaluation result: %w", err)
	}
	return nil
}

// Instantiate writes the derivations of attrs from collection to the store.
func (c *NixClient) Instantiate(ctx context.Context, collection string, attrs []models.Attribute) error {
	if len(attrs) == 0 {
		return nil
	}

	args := []string{collection}
	for _, a := range attrs {
		args = append(args, "-A", string(a))
	}

	res, err := c.run(ctx, c.instantiateBin, args...)
	if err != nil {
		return builderrors.NewInstantiateError(err, res.Stderr)
	}
	return nil
}

// DryRun reports what realizing units would build and fetch.
func (c *NixClient) DryRun(ctx context.Context, units []models.BuildUnit) (*models.DryRunReport, error) {
	if len(units) == 0 {
		return &models.DryRunReport{}, nil
	}

	args := append([]string{"--realize", "--dry-run"}, unitArgs(units)...)
	res, err := c.run(ctx, c.storeBin, args...)
	if err != nil {
		return nil, builderrors.NewDryRunError(err, res.Stderr)
	}

	return ParseDryRun(c.storeDir, res.Stderr)
}

// Realize returns the default output of each unit, in the order of units.
// Outputs are matched to units by name, so extra outputs such as "-dev" are
// skipped. Units whose output cannot be found are left out of the answer.
func (c *NixClient) Realize(ctx context.Context, units []models.BuildUnit) ([]models.ArtifactLocation, error) {
	if len(units) == 0 {
		return nil, nil
	}

	args := append([]string{"--realize"}, unitArgs(units)...)
	res, err := c.run(ctx, c.storeBin, args...)
	if err != nil {
		return nil, builderrors.NewRealizeError(err, res.Stderr)
	}

	return pairOutputs(units, strings.Split(res.Stdout, "\n")), nil
}

// pairOutputs picks, for each unit in order, the first output path whose
// name equals the unit's name.
func pairOutputs(units []models.BuildUnit, lines []string) []models.ArtifactLocation {
	byName := make(map[string][]models.ArtifactLocation)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		loc := models.ArtifactLocation(line)
		byName[loc.Name()] = append(byName[loc.Name()], loc)
	}

	locations := make([]models.ArtifactLocation, 0, len(units))
	for _, u := range units {
		candidates := byName[u.Name()]
		if len(candidates) == 0 {
			continue
		}
		locations = append(locations, candidates[0])
		byName[u.Name()] = candidates[1:]
	}
	return locations
}

// FetchLog returns the stored build log of unit.
func (c *NixClient) FetchLog(ctx context.Context, unit models.BuildUnit) (string, error) {
	res, err := c.run(ctx, c.nixBin, "--extra-experimental-features", "nix-command", "log", string(unit))
	if err != nil {
		return "", fmt.Errorf("nix log %s: %w: %s", unit.Base(), err, lastLine(res.Stderr))
	}
	return res.Stdout, nil
}

// buildArgs returns the arguments of the batch build command.
func (c *NixClient) buildArgs(units []models.BuildUnit) []string {
	args := []string{"build", "--no-link", "--keep-going"}
	// Nix prints full build logs only when it is not talking to a terminal
	// the user is watching.
	if !terminal.IsTerminal(c.stdout) {
		args = append(args, "--print-build-logs")
	}
	return append(args, unitArgs(units)...)
}

// StartBuild starts `nix build` over units on a pseudo-terminal, since Nix
// suppresses its progress output when it does not detect one.
func (c *NixClient) StartBuild(ctx context.Context, units []models.BuildUnit) (monitor.Process, error) {
	cmd := exec.Command(c.nixBin, c.buildArgs(units)...)

	session, err := terminal.Start(cmd, c.logger)
	if err != nil {
		return nil, err
	}

	stopResize := func() {}
	if terminal.IsTerminal(c.stdout) {
		stopResize = session.WatchResize(c.stdout)
	}

	return &buildProcess{Session: session, stopResize: stopResize}, nil
}

// buildProcess is a build session that also owns the resize watcher.
type buildProcess struct {
	*terminal.Session
	stopResize func()
}

func (p *buildProcess) Close() error {
	p.stopResize()
	return p.Session.Close()
}

func unitArgs(units []models.BuildUnit) []string {
	args := make([]string, len(units))
	for i, u := range units {
		args[i] = string(u)
	}
	return args
}

func argNames(args map[string]string) []string {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
