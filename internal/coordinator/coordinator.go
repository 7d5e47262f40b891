// Package coordinator runs one partition, launch, poll and report cycle.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/clusterize/internal/aggregator"
	"github.com/me/clusterize/internal/arraystore"
	"github.com/me/clusterize/internal/config"
	"github.com/me/clusterize/internal/launcher"
	"github.com/me/clusterize/internal/metrics"
	"github.com/me/clusterize/internal/partition"
	"github.com/me/clusterize/internal/pipeline"
	"github.com/me/clusterize/internal/poller"
	"github.com/me/clusterize/internal/store"
	"github.com/me/clusterize/pkg/model"
)

// Deps are the collaborators a Coordinator uses. Zero fields get defaults:
// a ShellSpawner, the built-in pipelines and a Nop ledger.
type Deps struct {
	Spawner  launcher.Spawner
	Registry *pipeline.Registry
	Ledger   store.Ledger
}

// Coordinator owns the job set of a run.
type Coordinator struct {
	cfg      config.MasterConfig
	tmpl     *launcher.Template
	computer pipeline.Computer
	spawner  launcher.Spawner
	ledger   store.Ledger
	logger   *slog.Logger

	mu       sync.Mutex
	launched []*launcher.Launcher
}

// New validates cfg and returns a Coordinator. Every configuration problem
// is reported as *model.ConfigError before any file is touched.
func New(cfg config.MasterConfig, deps Deps, logger *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tmpl, err := launcher.ParseTemplate(cfg.CommandTemplate)
	if err != nil {
		return nil, err
	}

	if deps.Registry == nil {
		deps.Registry = pipeline.DefaultRegistry(logger)
	}
	computer, err := deps.Registry.Get(cfg.Pipeline)
	if err != nil {
		return nil, &model.ConfigError{Field: "pipeline", Msg: err.Error()}
	}
	if deps.Spawner == nil {
		deps.Spawner = launcher.NewShellSpawner(logger)
	}
	if deps.Ledger == nil {
		deps.Ledger = store.Nop{}
	}

	return &Coordinator{
		cfg:      cfg,
		tmpl:     tmpl,
		computer: computer,
		spawner:  deps.Spawner,
		ledger:   deps.Ledger,
		logger:   logger.With("component", "coordinator"),
	}, nil
}

// Run partitions the input, launches one job per region, polls until every
// job is terminal and returns the report. Report.Success is true only when
// every region was aggregated. The returned error is non-nil for setup
// failures, aborted merges and timeouts; the report is always non-nil.
func (c *Coordinator) Run(ctx context.Context) (*model.Report, error) {
	report := &model.Report{RunID: "run_" + uuid.NewString()}
	logger := c.logger.With("run", report.RunID)
	began := time.Now()

	jobs, expected, err := c.plan()
	if err != nil {
		report.Error = err.Error()
		metrics.RunFinished(false)
		return report, err
	}
	report.JobCount = len(jobs)

	run := &model.Run{
		ID:        report.RunID,
		Input:     c.cfg.Input,
		Output:    c.cfg.Output,
		JobCount:  len(jobs),
		State:     model.RunStateRunning,
		StartedAt: began.UTC(),
	}
	if err := c.ledger.CreateRun(ctx, run); err != nil {
		logger.Warn("ledger: record run", "error", err)
	}
	for _, job := range jobs {
		if err := c.ledger.CreateJob(ctx, run.ID, job); err != nil {
			logger.Warn("ledger: record job", "job", job.Name, "error", err)
		}
	}

	logger.Info("starting run",
		"input", c.cfg.Input,
		"output", c.cfg.Output,
		"jobs", len(jobs),
		"pipeline", c.computer.Name(),
	)

	agg := aggregator.New(aggregator.Config{OutputPath: c.cfg.Output, Expected: expected}, logger)
	l := launcher.New(c.tmpl, c.spawner, launcher.Options{
		TrackExit:     c.cfg.TrackExit,
		FailureBuffer: len(jobs),
	}, logger)

	c.mu.Lock()
	c.launched = append(c.launched, l)
	c.mu.Unlock()

	start := time.Now()
	c.launchAll(ctx, logger, l, jobs, run.ID)

	p := poller.New(poller.Config{
		PollInterval: c.cfg.PollInterval,
		Timeout:      c.cfg.Timeout,
		RunID:        run.ID,
	}, agg, c.ledger, logger)
	res, runErr := p.Poll(ctx, jobs, l.Failures(), start)

	if err := agg.Close(); err != nil && runErr == nil {
		runErr = err
	}

	report.Passes = res.Passes
	report.Bytes = agg.Bytes()
	report.Copy = agg.Stats()
	report.Elapsed = time.Since(start)
	for _, job := range jobs {
		switch {
		case job.State == model.JobStateCompleted:
			report.Completed = append(report.Completed, job.Name)
		case job.State.IsFailure():
			report.Failures = append(report.Failures, model.JobFailure{
				Job:    job.Name,
				Region: job.Region.Key(),
				State:  job.State,
				Reason: job.Reason,
			})
		}
	}
	report.Success = runErr == nil && len(report.Completed) == len(jobs)
	if runErr != nil {
		report.Error = runErr.Error()
	} else if !report.Success {
		report.Error = fmt.Sprintf("%d of %d job(s) failed", len(report.Failures), len(jobs))
	}

	c.finishRun(ctx, logger, run, report)
	return report, runErr
}

// Wait blocks until every launch command started by this Coordinator has
// exited. Run does not wait for them.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	launched := append([]*launcher.Launcher(nil), c.launched...)
	c.mu.Unlock()
	for _, l := range launched {
		l.Wait()
	}
}

// plan reads the input metadata and builds the PENDING job set.
func (c *Coordinator) plan() ([]*model.Job, arraystore.Meta, error) {
	in, err := pipeline.OpenInput(c.cfg.Input, c.cfg.Dataset)
	if err != nil {
		return nil, arraystore.Meta{}, fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	shape, err := in.Shape()
	if err != nil {
		return nil, arraystore.Meta{}, fmt.Errorf("input shape: %w", err)
	}
	regions := partition.Partition(shape, c.cfg.NumJobs, c.cfg.SplitAxes)

	if err := os.MkdirAll(c.cfg.ScratchDir, 0o755); err != nil {
		return nil, arraystore.Meta{}, fmt.Errorf("create scratch dir: %w", err)
	}
	jobs := make([]*model.Job, len(regions))
	for i, r := range regions {
		jobs[i] = model.NewJob(model.TaskName(i), r, c.cfg.ScratchDir)
	}
	return jobs, c.computer.OutputMeta(in.Meta), nil
}

// launchAll starts every job. A job that cannot be launched is failed at
// once and does not stop the others.
func (c *Coordinator) launchAll(ctx context.Context, logger *slog.Logger, l *launcher.Launcher, jobs []*model.Job, runID string) {
	opts := launcher.WorkerOptions{
		Input:      c.cfg.Input,
		Dataset:    c.cfg.Dataset,
		ScratchDir: c.cfg.ScratchDir,
		TmpDir:     c.cfg.TmpDir,
		Pipeline:   c.computer.Name(),
		LogLevel:   c.cfg.WorkerLogLevel,
	}
	for _, job := range jobs {
		err := c.launch(l, opts, job)
		if err != nil {
			logger.Error("launch failed", "job", job.Name, "error", err)
			if terr := job.Transition(model.JobStateFailed, err.Error()); terr != nil {
				logger.Error("job transition", "job", job.Name, "error", terr)
			}
			metrics.JobFinished(model.JobStateFailed, false)
		} else {
			metrics.JobLaunched()
		}
		if err := c.ledger.UpdateJob(ctx, runID, job); err != nil {
			logger.Warn("ledger: update job", "job", job.Name, "error", err)
		}
	}
}

func (c *Coordinator) launch(l *launcher.Launcher, opts launcher.WorkerOptions, job *model.Job) error {
	enc, err := model.EncodeRegion(job.Region)
	if err != nil {
		return &model.LaunchError{Job: job.Name, Err: err}
	}
	return l.Launch(job, launcher.WorkerArgs(opts, enc, job.Name))
}

func (c *Coordinator) finishRun(ctx context.Context, logger *slog.Logger, run *model.Run, report *model.Report) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Success = report.Success
	run.Error = report.Error
	run.State = model.RunStateSucceeded
	if !report.Success {
		run.State = model.RunStateFailed
	}
	if err := c.ledger.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("ledger: finish run", "error", err)
	}
	metrics.RunFinished(report.Success)

	if report.Success {
		logger.Info("run succeeded", "jobs", report.JobCount, "elapsed", report.Elapsed.Round(time.Millisecond))
		return
	}
	logger.Error("run failed",
		"completed", len(report.Completed),
		"failed", len(report.Failures),
		"error", report.Error,
	)
}
