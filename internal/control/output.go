package control

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Paintersrp/remotelaunch/internal/registry"
)

// InheritOutput sends entry output to the supervisor's own stdout and stderr.
func InheritOutput() OutputFunc {
	return func(uint, registry.Spec) (io.Writer, io.Writer) {
		return os.Stdout, os.Stderr
	}
}

// LogOutput turns every line an entry prints into a log record. Stderr lines
// are logged at warn level. A final line without a newline is logged when the
// stream ends.
func LogOutput(logger *slog.Logger) OutputFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(id uint, spec registry.Spec) (io.Writer, io.Writer) {
		l := logger.With("component", "output", "id", id, "name", spec.Name)
		return &lineLogger{logger: l, level: slog.LevelInfo, source: "stdout"},
			&lineLogger{logger: l, level: slog.LevelWarn, source: "stderr"}
	}
}

type lineLogger struct {
	logger *slog.Logger
	level  slog.Level
	source string

	mu  sync.Mutex
	buf []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.buf[:i], "\r")
		w.logger.Log(context.Background(), w.level, string(line), "source", w.source)
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > 64*1024 {
		w.logger.Log(context.Background(), w.level, string(w.buf), "source", w.source, "truncated", true)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush logs whatever partial line is buffered.
func (w *lineLogger) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		line := bytes.TrimRight(w.buf, "\r")
		w.logger.Log(context.Background(), w.level, string(line), "source", w.source)
		w.buf = w.buf[:0]
	}
	return nil
}
