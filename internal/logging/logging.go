// Package logging builds the slog loggers handed to every component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls logger construction.
type Options struct {
	Level   slog.Level
	Format  string // "text" or "json"
	Process string // tags every record with process=<name> when set
}

// NewLogger creates a logger writing to stderr. Stdout is reserved for
// command output such as reports and partition plans.
func NewLogger(opts Options) *slog.Logger {
	return NewLoggerWithWriter(opts, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(opts Options, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, hopts)
	default:
		handler = slog.NewTextHandler(w, hopts)
	}

	logger := slog.New(handler)
	if opts.Process != "" {
		logger = WithProcess(logger, opts.Process)
	}
	return logger
}

// WithProcess tags a logger with the process (task) name, so interleaved
// worker logs on a shared filesystem can be told apart.
func WithProcess(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("process", name)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
