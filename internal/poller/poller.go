// Package poller watches the scratch directory for job status markers and
// folds finished jobs into the consolidated output.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/me/clusterize/internal/metrics"
	"github.com/me/clusterize/internal/store"
	"github.com/me/clusterize/pkg/model"
)

// Config holds poller configuration.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration // measured from the start time passed to Poll
	RunID        string        // ledger key for job updates
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{PollInterval: 15 * time.Second, Timeout: 10 * time.Minute}
}

// Aggregator consumes the output of a job whose status marker appeared.
type Aggregator interface {
	Aggregate(job *model.Job) error
}

// Result summarizes a finished poll.
type Result struct {
	Passes    int
	Completed int
	Failed    int // includes timed-out jobs
}

// Poller drives launched jobs to a terminal state. All job mutation happens
// on the goroutine calling Poll.
type Poller struct {
	config     Config
	aggregator Aggregator
	ledger     store.Ledger
	logger     *slog.Logger
}

// New creates a Poller. A nil ledger records nothing.
func New(cfg Config, agg Aggregator, ledger store.Ledger, logger *slog.Logger) *Poller {
	if ledger == nil {
		ledger = store.Nop{}
	}
	return &Poller{
		config:     cfg,
		aggregator: agg,
		ledger:     ledger,
		logger:     logger.With("component", "poller"),
	}
}

// Poll sleeps one interval, then checks every RUNNING job, until none
// remain. Each pass applies launch failures received on failures, aggregates
// jobs whose status marker exists and finally enforces the timeout.
//
// An aggregation error fails that job, marks the remaining jobs FAILED and
// is returned. When the timeout passes, remaining jobs become TIMED_OUT and
// a *model.TimeoutError is returned. Jobs not RUNNING on entry are ignored.
func (p *Poller) Poll(ctx context.Context, jobs []*model.Job, failures <-chan *model.LaunchError, start time.Time) (*Result, error) {
	res := &Result{}
	active := make([]*model.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.State == model.JobStateRunning {
			active = append(active, j)
		}
	}
	p.logger.Info("polling for completed jobs",
		"jobs", len(active),
		"poll_interval", p.config.PollInterval,
		"timeout", p.config.Timeout,
	)

	for len(active) > 0 {
		if err := sleep(ctx, p.config.PollInterval); err != nil {
			p.abort(ctx, active, model.JobStateFailed, "cancelled")
			res.Failed += len(active)
			return res, err
		}
		res.Passes++
		metrics.PollPass()

		launchFailures := drain(failures)

		// Markers first: a job that signalled completion wins over a late
		// launch failure report.
		still := active[:0]
		for i, job := range active {
			if !p.markerExists(job) {
				still = append(still, job)
				continue
			}
			p.logger.Debug("found status marker", "job", job.Name, "path", job.StatusPath)
			if err := p.aggregator.Aggregate(job); err != nil {
				p.finish(ctx, job, model.JobStateFailed, err.Error())
				res.Failed++
				rest := append(still, active[i+1:]...)
				p.abort(ctx, rest, model.JobStateFailed, "run aborted: "+job.Name+" failed aggregation")
				res.Failed += len(rest)
				return res, fmt.Errorf("aggregate %s: %w", job.Name, err)
			}
			p.finish(ctx, job, model.JobStateCompleted, "")
			res.Completed++
		}
		active = still

		if len(launchFailures) > 0 {
			still = active[:0]
			for _, job := range active {
				if lerr, ok := launchFailures[job.Name]; ok {
					p.finish(ctx, job, model.JobStateFailed, lerr.Error())
					res.Failed++
					continue
				}
				still = append(still, job)
			}
			active = still
		}

		p.logger.Debug("poll pass done", "pass", res.Passes, "active", len(active), "completed", res.Completed)

		if elapsed := time.Since(start); len(active) > 0 && elapsed >= p.config.Timeout {
			unfinished := make([]string, len(active))
			for i, job := range active {
				unfinished[i] = job.Name
			}
			p.abort(ctx, active, model.JobStateTimedOut, "no status marker within "+p.config.Timeout.String())
			res.Failed += len(active)
			return res, &model.TimeoutError{Elapsed: elapsed, Unfinished: unfinished}
		}
	}

	p.logger.Info("all jobs finished", "passes", res.Passes, "completed", res.Completed, "failed", res.Failed)
	return res, nil
}

func (p *Poller) markerExists(job *model.Job) bool {
	_, err := os.Stat(job.StatusPath)
	if err == nil {
		return true
	}
	if !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("stat status marker", "job", job.Name, "error", err)
	}
	return false
}

// finish moves job to a terminal state and records the change.
func (p *Poller) finish(ctx context.Context, job *model.Job, state model.JobState, reason string) {
	if err := job.Transition(state, reason); err != nil {
		p.logger.Error("job transition", "job", job.Name, "error", err)
		return
	}
	metrics.JobFinished(state, true)

	switch state {
	case model.JobStateCompleted:
		p.logger.Info("job completed", "job", job.Name)
	default:
		p.logger.Warn("job finished unsuccessfully", "job", job.Name, "state", state, "reason", reason)
	}

	if err := p.ledger.UpdateJob(context.WithoutCancel(ctx), p.config.RunID, job); err != nil {
		p.logger.Warn("ledger update failed", "job", job.Name, "error", err)
	}
}

func (p *Poller) abort(ctx context.Context, jobs []*model.Job, state model.JobState, reason string) {
	for _, job := range jobs {
		p.finish(ctx, job, state, reason)
	}
}

// drain collects every failure already posted, keyed by job name.
func drain(failures <-chan *model.LaunchError) map[string]*model.LaunchError {
	out := make(map[string]*model.LaunchError)
	for {
		select {
		case f := <-failures:
			out[f.Job] = f
		default:
			return out
		}
	}
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
