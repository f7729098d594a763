// Package logging defines the structured event sink the core depends on.
//
// The teacher's daemon logger (cmd/bd/daemon_logger.go) wraps log/slog as a
// package-level type; swarmcore instead exposes it as an interface so callers
// pass a Logger in rather than importing a singleton (spec.md §9).
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the event-keyed structured sink every swarmcore component takes
// as a constructor argument. Calls look like:
//
//	logger.Info("task.enqueued", "task_id", id, "priority", p)
type Logger interface {
	Debug(event string, kv ...any)
	Info(event string, kv ...any)
	Warn(event string, kv ...any)
	Error(event string, kv ...any)
	// With returns a Logger with kv attached to every subsequent event.
	With(kv ...any) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// New builds a Logger writing to w at the given level. Use NewFile for
// rotation via lumberjack.
func New(w io.Writer, level slog.Level, jsonFormat bool) Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if jsonFormat {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &slogLogger{l: slog.New(h)}
}

// NewFile builds a rotating-file Logger. maxSizeMB/maxBackups/maxAgeDays follow
// lumberjack's own semantics; a zero value picks lumberjack's defaults.
func NewFile(path string, level slog.Level, jsonFormat bool, maxSizeMB, maxBackups, maxAgeDays int, compress bool) (Logger, *lumberjack.Logger) {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
	}
	return New(lj, level, jsonFormat), lj
}

// Noop discards every event. Useful as a default in tests and library callers
// that don't care about logging.
func Noop() Logger { return &slogLogger{l: slog.New(slog.NewTextHandler(io.Discard, nil))} }

// Stderr is a convenience Logger writing text-formatted events to stderr at Info level.
func Stderr() Logger { return New(os.Stderr, slog.LevelInfo, false) }

func (s *slogLogger) Debug(event string, kv ...any) { s.l.Debug(event, kv...) }
func (s *slogLogger) Info(event string, kv ...any)  { s.l.Info(event, kv...) }
func (s *slogLogger) Warn(event string, kv ...any)  { s.l.Warn(event, kv...) }
func (s *slogLogger) Error(event string, kv ...any) { s.l.Error(event, kv...) }

func (s *slogLogger) With(kv ...any) Logger {
	return &slogLogger{l: s.l.With(kv...)}
}
