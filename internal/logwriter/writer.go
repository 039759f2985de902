// Package logwriter consumes a child's stdout/stderr pipe and appends
// newline-framed bytes to a per-service, per-stream log file. It never
// rotates, filters, or parses the stream — spec.md §4.2 and the Non-goals
// in §1 rule all three out; the teacher's fuller pipeline (multiline
// coalescing, JSON extraction, level detection, include/exclude filters)
// is not reused here for that reason.
package logwriter

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Writer appends raw lines from a single pipe to <state>/logs/<svc>_<stream>.log.
// It implements io.Writer so it can be set directly as an exec.Cmd's
// Stdout or Stderr.
type Writer struct {
	service string
	stream  string
	logger  *slog.Logger
	redact  *Redactor

	mu       sync.Mutex
	file     *os.File
	buf      bytes.Buffer
	warnOnce bool
}

// New opens <stateDir>/logs/<service>_<stream>.log for append and
// returns a Writer over it.
func New(stateDir, service, stream string, redact *Redactor, logger *slog.Logger) (*Writer, error) {
	dir := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", service, stream))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return &Writer{service: service, stream: stream, logger: logger, redact: redact, file: f}, nil
}

// Write implements io.Writer. Complete lines are flushed immediately;
// a trailing partial line is held until the next Write or Close.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)

	for {
		line, rest, ok := bytes.Cut(w.buf.Bytes(), []byte("\n"))
		if !ok {
			break
		}
		w.writeLine(string(bytes.TrimSuffix(line, []byte("\r"))))
		remaining := make([]byte, len(rest))
		copy(remaining, rest)
		w.buf.Reset()
		w.buf.Write(remaining)
	}

	return len(p), nil
}

func (w *Writer) writeLine(line string) {
	if w.redact != nil {
		line = w.redact.Redact(line)
	}
	if _, err := fmt.Fprintln(w.file, line); err != nil && !w.warnOnce {
		w.warnOnce = true
		if w.logger != nil {
			w.logger.Error("log write failed, discarding further output for this stream",
				"service", w.service, "stream", w.stream, "error", err)
		}
	}
}

// Close flushes any trailing partial line and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.buf.Len() > 0 {
		w.writeLine(w.buf.String())
		w.buf.Reset()
	}
	w.mu.Unlock()
	return w.file.Close()
}

var _ io.Writer = (*Writer)(nil)
