package monitor

import (
	"bytes"
	"io"
	"strings"

	"github.com/acarl005/stripansi"
)

const readBufferSize = 4096

// scanLines reads r until it fails, copying the raw bytes to tee and sending
// every non-blank line, split on '\n' or '\r' and stripped of ANSI escapes,
// to lines. It closes lines and reports the terminating error on done.
func scanLines(r io.Reader, tee io.Writer, lines chan<- string, done chan<- error) {
	defer close(lines)

	buf := make([]byte, readBufferSize)
	var partial bytes.Buffer

	emit := func(raw []byte) {
		line := strings.TrimSpace(stripansi.Strip(string(raw)))
		if line != "" {
			lines <- line
		}
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if tee != nil {
				tee.Write(chunk)
			}
			for {
				i := bytes.IndexAny(chunk, "\r\n")
				if i < 0 {
					partial.Write(chunk)
					break
				}
				partial.Write(chunk[:i])
				emit(partial.Bytes())
				partial.Reset()
				chunk = chunk[i+1:]
			}
		}
		if err != nil {
			if partial.Len() > 0 {
				emit(partial.Bytes())
			}
			done <- err
			return
		}
	}
}
