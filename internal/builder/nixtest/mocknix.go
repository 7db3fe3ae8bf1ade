// Package nixtest provides an in-memory Nix stand-in for testing build passes.
//
// MockNix models a tiny store: a dependency graph of derivations, a behaviour
// per derivation, and the set of derivations already built. Its batch build
// emits the same diagnostic lines `nix build --keep-going` prints.
package nixtest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/narvanalabs/mydra/internal/builder/monitor"
	"github.com/narvanalabs/mydra/internal/models"
)

// StoreDir is the store directory used by the mock.
const StoreDir = "/nix/store"

// Behaviour controls what building a derivation does.
type Behaviour int

const (
	// Succeed builds the derivation.
	Succeed Behaviour = iota
	// FailBuilder makes the derivation's builder exit with code 1.
	FailBuilder
	// TimeoutBuild makes Nix report its own build timeout.
	TimeoutBuild
	// Hang never finishes; the build blocks until it is killed.
	Hang
)

var (
	// ErrEvaluationAborted is returned by Evaluate when a batch contains an
	// attribute whose evaluation aborts.
	ErrEvaluationAborted = errors.New("evaluation aborted")
	// ErrNotBuilt is returned by Realize for a derivation that was never built.
	ErrNotBuilt = errors.New("derivation not built")
	// ErrNoLog is returned by FetchLog when no log exists.
	ErrNoLog = errors.New("no build log available")
)

// Unit returns a deterministic derivation path for name.
func Unit(name string) models.BuildUnit {
	return models.BuildUnit(StoreDir + "/" + hash32(name+".drv") + "-" + name + ".drv")
}

// Location returns the deterministic output path for a derivation named name.
func Location(name string) models.ArtifactLocation {
	return models.ArtifactLocation(StoreDir + "/" + hash32(name) + "-" + name)
}

func hash32(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}

// MockNix implements every Nix collaborator of a build pass in memory.
type MockNix struct {
	mu sync.Mutex

	// Attrs maps attribute paths to the derivation they evaluate to. Missing
	// attributes evaluate to null.
	Attrs map[models.Attribute]models.BuildUnit
	// AbortingAttrs make any evaluation that includes them fail as a whole.
	AbortingAttrs map[models.Attribute]bool
	// Deps lists the direct dependencies of each derivation.
	Deps map[models.BuildUnit][]models.BuildUnit
	// Behaviours sets the build behaviour per derivation. Default is Succeed.
	Behaviours map[models.BuildUnit]Behaviour
	// Built holds derivations whose outputs are valid in the store.
	Built map[models.BuildUnit]bool
	// Substitutable holds derivations a binary cache provides. Until built,
	// a dry run lists their "out" and "dev" outputs to fetch.
	Substitutable map[models.BuildUnit]bool
	// Logs holds build logs by derivation.
	Logs map[models.BuildUnit]string
	// LineDelay is slept between emitted lines.
	LineDelay time.Duration
	// InstantiateErr is returned by Instantiate when set.
	InstantiateErr error
	// DropRealized drops this many locations from every Realize answer.
	DropRealized int

	// Recorded calls.
	EvaluateCalls    [][]models.Attribute
	InstantiateCalls [][]models.Attribute
	BuildCalls       [][]models.BuildUnit
	DryRunCalls      [][]models.BuildUnit
	RealizeCalls     [][]models.BuildUnit
	LogCalls         []models.BuildUnit
	Killed           int
}

// New creates an empty MockNix.
func New() *MockNix {
	return &MockNix{
		Attrs:         make(map[models.Attribute]models.BuildUnit),
		AbortingAttrs: make(map[models.Attribute]bool),
		Deps:          make(map[models.BuildUnit][]models.BuildUnit),
		Behaviours:    make(map[models.BuildUnit]Behaviour),
		Built:         make(map[models.BuildUnit]bool),
		Substitutable: make(map[models.BuildUnit]bool),
		Logs:          make(map[models.BuildUnit]string),
	}
}

// AddPackage registers attr evaluating to a derivation named name with the
// given behaviour and dependencies, and returns the derivation.
func (m *MockNix) AddPackage(attr models.Attribute, name string, b Behaviour, deps ...models.BuildUnit) models.BuildUnit {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := Unit(name)
	if attr != "" {
		m.Attrs[attr] = u
	}
	m.Behaviours[u] = b
	m.Deps[u] = deps
	m.Logs[u] = fmt.Sprintf("building %s\n", name)
	return u
}

// Evaluate implements the evaluator contract for the attribute expression.
// It reads the JSON attribute list from args["attrsJSON"] and decodes an
// attribute to derivation path mapping into out.
func (m *MockNix) Evaluate(ctx context.Context, expr string, args map[string]string, out any) error {
	var attrs []models.Attribute
	if err := json.Unmarshal([]byte(args["attrsJSON"]), &attrs); err != nil {
		return fmt.Errorf("decoding attrsJSON: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.EvaluateCalls = append(m.EvaluateCalls, attrs)

	answer := make(map[models.Attribute]*models.BuildUnit, len(attrs))
	for _, a := range attrs {
		if m.AbortingAttrs[a] {
			return fmt.Errorf("%w: %s", ErrEvaluationAborted, a)
		}
		if u, ok := m.Attrs[a]; ok {
			u := u
			answer[a] = &u
		} else {
			answer[a] = nil
		}
	}

	data, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Instantiate records the call and returns InstantiateErr.
func (m *MockNix) Instantiate(ctx context.Context, collection string, attrs []models.Attribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InstantiateCalls = append(m.InstantiateCalls, append([]models.Attribute(nil), attrs...))
	return m.InstantiateErr
}

// DryRun reports every unbuilt derivation in the closure of units, listing
// the outputs of substitutable ones to fetch.
func (m *MockNix) DryRun(ctx context.Context, units []models.BuildUnit) (*models.DryRunReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DryRunCalls = append(m.DryRunCalls, append([]models.BuildUnit(nil), units...))

	report := &models.DryRunReport{}
	for _, u := range m.closure(units) {
		switch {
		case m.Built[u]:
		case m.Substitutable[u]:
			report.ToFetch = append(report.ToFetch, Location(u.Name()), Location(u.Name()+"-dev"))
		default:
			report.ToBuild = append(report.ToBuild, u)
		}
	}
	return report, nil
}

// Realize returns the output of every unit, which must already be built.
func (m *MockNix) Realize(ctx context.Context, units []models.BuildUnit) ([]models.ArtifactLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RealizeCalls = append(m.RealizeCalls, append([]models.BuildUnit(nil), units...))

	locations := make([]models.ArtifactLocation, 0, len(units))
	for _, u := range units {
		if !m.Built[u] {
			return nil, fmt.Errorf("%w: %s", ErrNotBuilt, u)
		}
		locations = append(locations, Location(u.Name()))
	}
	if m.DropRealized > 0 && m.DropRealized <= len(locations) {
		locations = locations[:len(locations)-m.DropRealized]
	}
	return locations, nil
}

// FetchLog returns the build log of unit.
func (m *MockNix) FetchLog(ctx context.Context, unit models.BuildUnit) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LogCalls = append(m.LogCalls, unit)

	log, ok := m.Logs[unit]
	if !ok {
		return "", ErrNoLog
	}
	return log, nil
}

// StartBuild simulates `nix build --keep-going` over units.
func (m *MockNix) StartBuild(ctx context.Context, units []models.BuildUnit) (monitor.Process, error) {
	m.mu.Lock()
	m.BuildCalls = append(m.BuildCalls, append([]models.BuildUnit(nil), units...))
	order := m.closure(units)
	m.mu.Unlock()

	r, w := io.Pipe()
	p := &mockProcess{
		r:      r,
		killed: make(chan struct{}),
		exited: make(chan struct{}),
		onKill: func() {
			m.mu.Lock()
			m.Killed++
			m.mu.Unlock()
		},
	}
	go m.simulate(p, w, units, order)
	return p, nil
}

// simulate builds order, which is sorted dependencies first.
func (m *MockNix) simulate(p *mockProcess, w *io.PipeWriter, requested, order []models.BuildUnit) {
	defer close(p.exited)

	failed := make(map[models.BuildUnit]bool)
	emit := func(format string, args ...any) bool {
		if m.LineDelay > 0 {
			select {
			case <-time.After(m.LineDelay):
			case <-p.killed:
				return false
			}
		}
		_, err := fmt.Fprintf(w, format+"\r\n", args...)
		return err == nil
	}

	for _, u := range order {
		m.mu.Lock()
		built := m.Built[u]
		behaviour := m.Behaviours[u]
		deps := m.Deps[u]
		m.mu.Unlock()

		if built {
			continue
		}

		depFailed := 0
		for _, d := range deps {
			if failed[d] {
				depFailed++
			}
		}
		if depFailed > 0 {
			failed[u] = true
			if !emit("error: cannot build derivation '%s': %d dependencies couldn't be built", u, depFailed) {
				return
			}
			continue
		}

		if !emit("\x1b[1mbuilding '%s'...\x1b[0m", u) {
			return
		}
		switch behaviour {
		case FailBuilder:
			failed[u] = true
			if !emit("error: builder for '%s' failed with exit code 1; last 10 log lines:", u) {
				return
			}
		case TimeoutBuild:
			failed[u] = true
			if !emit("error: building of '%s' timed out after 10 seconds", u) {
				return
			}
		case Hang:
			<-p.killed
			return
		default:
			m.mu.Lock()
			m.Built[u] = true
			m.mu.Unlock()
		}
	}

	var failedRequested []string
	for _, u := range requested {
		if failed[u] {
			failedRequested = append(failedRequested, "'"+string(u)+"'")
		}
	}
	if len(failedRequested) > 0 {
		line := "error: build of "
		for i, f := range failedRequested {
			if i > 0 {
				line += ", "
			}
			line += f
		}
		emit("%s failed", line)
	}
	w.Close()
}

// closure returns units and their transitive dependencies, dependencies
// first. Units are visited in the order given. The caller holds m.mu.
func (m *MockNix) closure(units []models.BuildUnit) []models.BuildUnit {
	visited := make(map[models.BuildUnit]bool)
	var order []models.BuildUnit

	var visit func(u models.BuildUnit)
	visit = func(u models.BuildUnit) {
		if visited[u] {
			return
		}
		visited[u] = true
		deps := append([]models.BuildUnit(nil), m.Deps[u]...)
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
		for _, d := range deps {
			visit(d)
		}
		order = append(order, u)
	}

	for _, u := range units {
		visit(u)
	}
	return order
}

// mockProcess is the running side of a simulated build.
type mockProcess struct {
	r *io.PipeReader

	killOnce sync.Once
	killed   chan struct{}
	exited   chan struct{}
	onKill   func()
}

func (p *mockProcess) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

func (p *mockProcess) Kill() error {
	p.killOnce.Do(func() {
		close(p.killed)
		p.onKill()
	})
	return nil
}

func (p *mockProcess) Wait() error {
	<-p.exited
	select {
	case <-p.killed:
		return errors.New("signal: killed")
	default:
		return nil
	}
}

func (p *mockProcess) Close() error {
	return p.r.Close()
}
