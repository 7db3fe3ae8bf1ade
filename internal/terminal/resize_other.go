//go:build !unix

package terminal

import "os"

// WatchResize applies the size of source once. There is no resize signal on
// this platform.
func (s *Session) WatchResize(source *os.File) (stop func()) {
	if err := s.InheritSize(source); err != nil {
		s.logger.Debug("initial pty resize failed", "error", err)
	}
	return func() {}
}
