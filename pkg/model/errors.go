package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigError reports a malformed run configuration. It is raised before any
// file is touched or process spawned.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Msg)
}

// LaunchError reports that a job's launch command could not be started or
// exited unsuccessfully. It fails the job, not the run.
type LaunchError struct {
	Job      string
	ExitCode int
	Err      error
}

func (e *LaunchError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("launch %s: %v (exit code %d)", e.Job, e.Err, e.ExitCode)
	}
	return fmt.Sprintf("launch %s: %v", e.Job, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ValidationError reports that a completed job's result does not match the
// expected shape, element type or axis metadata. It aborts the run.
type ValidationError struct {
	Job   string
	Field string
	Got   string
	Want  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %s mismatch: got %s, want %s", e.Job, e.Field, e.Got, e.Want)
}

// MissingOutputError reports a status marker without its output file. It
// aborts the run.
type MissingOutputError struct {
	Job  string
	Path string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("job %s: status marker present but output file missing: %s", e.Job, e.Path)
}

// TimeoutError reports the jobs still unfinished when the run deadline passed.
type TimeoutError struct {
	Elapsed    time.Duration
	Unfinished []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s with %d unfinished job(s): %s",
		e.Elapsed.Round(time.Second), len(e.Unfinished), strings.Join(e.Unfinished, ", "))
}

// IsFatal reports whether err invalidates the whole merge (validation or
// missing-output), as opposed to a per-job failure.
func IsFatal(err error) bool {
	var ve *ValidationError
	var me *MissingOutputError
	return errors.As(err, &ve) || errors.As(err, &me)
}
