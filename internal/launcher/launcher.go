// Package launcher starts one external worker process per job and returns
// without waiting for it.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/me/clusterize/pkg/model"
)

// Options configures a Launcher.
type Options struct {
	// TrackExit reports a non-zero exit status of the launch command as a
	// job failure. Leave it off for launchers that exit before the worker
	// does and whose exit status says nothing about the job.
	TrackExit bool
	// FailureBuffer is the capacity of the failure channel. Failures posted
	// while the channel is full are logged and dropped.
	FailureBuffer int
}

// Launcher renders launch commands and hands them to a Spawner.
type Launcher struct {
	tmpl      *Template
	spawner   Spawner
	trackExit bool
	failures  chan *model.LaunchError
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// New creates a Launcher.
func New(tmpl *Template, spawner Spawner, opts Options, logger *slog.Logger) *Launcher {
	buf := opts.FailureBuffer
	if buf <= 0 {
		buf = 64
	}
	return &Launcher{
		tmpl:      tmpl,
		spawner:   spawner,
		trackExit: opts.TrackExit,
		failures:  make(chan *model.LaunchError, buf),
		logger:    logger.With("component", "launcher"),
	}
}

// Failures returns the channel on which launch goroutines report failed
// jobs. It is never closed.
func (l *Launcher) Failures() <-chan *model.LaunchError {
	return l.failures
}

// Launch removes stale files for job, moves it to RUNNING and starts its
// launch command in a new goroutine. It does not wait for the command.
func (l *Launcher) Launch(job *model.Job, args []string) error {
	if err := RemoveStale(job); err != nil {
		return &model.LaunchError{Job: job.Name, Err: err}
	}

	line := l.tmpl.Render(args, job.Name)
	job.Command = line
	if err := job.Transition(model.JobStateRunning, ""); err != nil {
		return err
	}

	l.logger.Info("launching job", "job", job.Name, "region", job.Region.Key())
	l.logger.Debug("launch command", "job", job.Name, "command", line)

	cmd := Command{Job: job.Name, Line: line, Args: args}
	l.wg.Add(1)
	go l.spawn(cmd)
	return nil
}

// Wait blocks until every launch command started so far has exited.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

func (l *Launcher) spawn(cmd Command) {
	defer l.wg.Done()

	// Workers outlive the coordinator, so the spawn is not tied to the run's context.
	err := l.spawner.Spawn(context.Background(), cmd)
	if err == nil {
		l.logger.Debug("launch command exited", "job", cmd.Job)
		return
	}

	var exitErr *ExitStatusError
	if errors.As(err, &exitErr) {
		if !l.trackExit {
			l.logger.Warn("launch command exited non-zero", "job", cmd.Job, "exit_code", exitErr.Code)
			return
		}
		l.post(&model.LaunchError{Job: cmd.Job, ExitCode: exitErr.Code, Err: err})
		return
	}
	l.post(&model.LaunchError{Job: cmd.Job, Err: err})
}

func (l *Launcher) post(e *model.LaunchError) {
	select {
	case l.failures <- e:
		l.logger.Warn("launch failed", "job", e.Job, "error", e.Err)
	default:
		l.logger.Error("failure channel full, dropping launch failure", "job", e.Job, "error", e.Err)
	}
}

// RemoveStale deletes status, output and partial-output files left behind
// for job by an earlier run.
func RemoveStale(job *model.Job) error {
	for _, path := range []string{job.StatusPath, job.OutputPath, job.OutputPath + model.PartialOutputSuffix} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale %s: %w", path, err)
		}
	}
	return nil
}
