// Package terminal runs child processes attached to a pseudo-terminal.
//
// Nix changes its output format when it is not talking to a terminal, so the
// batch builder is always spawned on a pty. The controlling terminal's size is
// mirrored onto the pty while the child runs.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

var (
	// ErrSessionClosed is returned when reading from a closed session.
	ErrSessionClosed = errors.New("terminal session closed")
	// ErrNotStarted is returned when signalling a session whose process never started.
	ErrNotStarted = errors.New("process not started")
)

// DefaultSize is applied to the pty when the controlling terminal's size is unknown.
var DefaultSize = pty.Winsize{Rows: 24, Cols: 80}

// Session is a child process attached to a pty.
type Session struct {
	PTY *os.File

	cmd    *exec.Cmd
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	waitOnce sync.Once
	waitErr  error
}

// Start spawns cmd on a new pty and applies the default window size.
func Start(cmd *exec.Cmd, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if os.Getenv("TERM") == "" {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	}

	ptmx, err := pty.StartWithSize(cmd, &DefaultSize)
	if err != nil {
		return nil, fmt.Errorf("starting pty: %w", err)
	}

	logger.Debug("pty session started",
		"path", cmd.Path,
		"pid", cmd.Process.Pid,
	)

	return &Session{
		PTY:    ptmx,
		cmd:    cmd,
		logger: logger,
	}, nil
}

// Read reads output from the child. The EIO that Linux reports once the child
// side of the pty is gone is translated to io.EOF.
func (s *Session) Read(p []byte) (int, error) {
	n, err := s.PTY.Read(p)
	if err != nil {
		if errors.Is(err, syscall.EIO) {
			return n, io.EOF
		}
		if s.IsClosed() {
			return n, ErrSessionClosed
		}
	}
	return n, err
}

// Resize sets the pty window size.
func (s *Session) Resize(rows, cols uint16) error {
	if err := pty.Setsize(s.PTY, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("resizing pty: %w", err)
	}
	return nil
}

// InheritSize copies the window size of source onto the pty.
func (s *Session) InheritSize(source *os.File) error {
	size, err := pty.GetsizeFull(source)
	if err != nil {
		return fmt.Errorf("reading terminal size: %w", err)
	}
	if err := pty.Setsize(s.PTY, size); err != nil {
		return fmt.Errorf("resizing pty: %w", err)
	}
	s.logger.Debug("pty resized", "rows", size.Rows, "cols", size.Cols)
	return nil
}

// Kill terminates the child immediately with SIGKILL.
func (s *Session) Kill() error {
	if s.cmd.Process == nil {
		return ErrNotStarted
	}
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing process: %w", err)
	}
	return nil
}

// Wait waits for the child to exit. It is safe to call more than once.
func (s *Session) Wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// Pid returns the child's process ID.
func (s *Session) Pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Close closes the pty. Pending reads return an error.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.PTY.Close(); err != nil {
		return fmt.Errorf("closing pty: %w", err)
	}
	return nil
}

// IsClosed returns true if the session is closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
