//go:build unix

package terminal

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// WatchResize mirrors the size of source onto the pty, once immediately and
// again on every SIGWINCH, until the returned stop function is called.
// Resizes run on their own goroutine and never touch the session's reader.
func (s *Session) WatchResize(source *os.File) (stop func()) {
	if err := s.InheritSize(source); err != nil {
		s.logger.Debug("initial pty resize failed", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				if s.IsClosed() {
					continue
				}
				if err := s.InheritSize(source); err != nil {
					s.logger.Debug("pty resize failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}
