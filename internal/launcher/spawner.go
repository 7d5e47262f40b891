package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// Command is one rendered launch request.
type Command struct {
	Job  string
	Line string   // rendered shell command line
	Args []string // worker arguments substituted for {args}
}

// Spawner starts a launch command and blocks until it exits.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) error
}

// ExitStatusError reports a launch command that ran but exited non-zero.
type ExitStatusError struct {
	Code   int
	Output string
}

func (e *ExitStatusError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Output)
}

// maxOutput bounds the launch output kept for logs and error messages.
const maxOutput = 512

// tailWriter keeps only the last max bytes written to it. A local template
// runs the worker itself, so the launch command can print its whole log.
type tailWriter struct {
	max   int
	buf   []byte
	total int64
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.total += int64(len(p))
	if len(p) >= w.max {
		w.buf = append(w.buf[:0], p[len(p)-w.max:]...)
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	if len(w.buf) > 2*w.max {
		w.buf = append(w.buf[:0], w.buf[len(w.buf)-w.max:]...)
	}
	return len(p), nil
}

// String returns at most max bytes, starting on a UTF-8 character boundary.
func (w *tailWriter) String() string {
	b := w.buf
	if len(b) > w.max {
		b = b[len(b)-w.max:]
	}
	for i := 0; i < len(b) && i < utf8.UTFMax; i++ {
		if utf8.RuneStart(b[i]) {
			return string(b[i:])
		}
	}
	return string(b)
}

// ShellSpawner runs launch commands through a POSIX shell.
type ShellSpawner struct {
	Shell  string // defaults to /bin/sh
	logger *slog.Logger
}

// NewShellSpawner creates a ShellSpawner using /bin/sh.
func NewShellSpawner(logger *slog.Logger) *ShellSpawner {
	return &ShellSpawner{
		Shell:  "/bin/sh",
		logger: logger.With("component", "shell-spawner"),
	}
}

// Spawn runs cmd.Line with "sh -c". Output of the launch command (such as
// the job id printed by qsub) is logged at debug level.
func (s *ShellSpawner) Spawn(ctx context.Context, cmd Command) error {
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	c := exec.CommandContext(ctx, shell, "-c", cmd.Line)
	out := &tailWriter{max: maxOutput}
	c.Stdout = out
	c.Stderr = out

	runErr := c.Run()
	output := strings.TrimSpace(out.String())
	s.logger.Debug("launch command finished", "job", cmd.Job, "output_bytes", out.total, "output_tail", output)

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return nil
	case errors.As(runErr, &exitErr):
		return &ExitStatusError{Code: exitErr.ExitCode(), Output: output}
	default:
		return fmt.Errorf("run %s: %w", shell, runErr)
	}
}
