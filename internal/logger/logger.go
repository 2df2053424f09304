// Package logger provides structured logging for the console and CLI.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/nadmax/searcheval/internal/task"
)

// Logger wraps slog.Logger with evaluation specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to stdout with the given level and format.
func New(level, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithTask returns a logger tagged with a task kind and id.
func (l *Logger) WithTask(kind task.TaskKind, id int64) *Logger {
	return &Logger{
		Logger: l.With("task_kind", string(kind), "task_id", id),
	}
}

// WithView returns a logger tagged with a console view.
func (l *Logger) WithView(view string) *Logger {
	return &Logger{
		Logger: l.With("view", view),
	}
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.With("error", err.Error()),
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the default logger.
func Default() *Logger {
	return New("info", "text")
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "error", "text")
}
