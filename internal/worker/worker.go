// Package worker runs one job inside a spawned worker process: compute the
// assigned region, publish the result into the scratch directory and then
// signal completion.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/clusterize/internal/arraystore"
	"github.com/me/clusterize/internal/pipeline"
	"github.com/me/clusterize/pkg/model"
)

// StatusMarkerContent is written into every status marker. Only the
// marker's existence is meaningful.
const StatusMarkerContent = "Yay!"

// Task describes the work assigned to one worker process.
type Task struct {
	EncodedRegion string
	TaskName      string
	ScratchDir    string
	TmpDir        string // private temp root; empty means the system default
	Input         string
	Dataset       string
	Pipeline      string
}

// Runner executes Tasks.
type Runner struct {
	registry *pipeline.Registry
	logger   *slog.Logger
}

// NewRunner creates a Runner resolving pipelines from registry.
func NewRunner(registry *pipeline.Registry, logger *slog.Logger) *Runner {
	return &Runner{
		registry: registry,
		logger:   logger.With("component", "worker"),
	}
}

// Run executes t. The status marker is written only after the output file
// is complete at its final path; on any error no marker is written.
func (r *Runner) Run(ctx context.Context, t Task) error {
	region, err := model.DecodeRegion(t.EncodedRegion)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.TaskName, err)
	}
	computer, err := r.registry.Get(t.Pipeline)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.TaskName, err)
	}

	statusPath := model.StatusFilePath(t.ScratchDir, t.TaskName, region)
	outputPath := model.OutputFilePath(t.ScratchDir, t.TaskName, region)
	logger := r.logger.With("job", t.TaskName, "region", region.Key())

	in, err := pipeline.OpenInput(t.Input, t.Dataset)
	if err != nil {
		return fmt.Errorf("task %s: open input: %w", t.TaskName, err)
	}
	defer in.Close()
	if !region.Within(in.Meta.Shape) {
		return fmt.Errorf("task %s: region %s outside input shape %v", t.TaskName, region, in.Meta.Shape)
	}

	logger.Info("computing region", "pipeline", computer.Name())
	start := time.Now()
	res, err := computer.Compute(ctx, in, region)
	if err != nil {
		return fmt.Errorf("task %s: compute: %w", t.TaskName, err)
	}
	computeTime := time.Since(start)

	tmpDir, err := os.MkdirTemp(t.TmpDir, "clusterize-"+t.TaskName+"-")
	if err != nil {
		return fmt.Errorf("task %s: create temp dir: %w", t.TaskName, err)
	}
	defer os.RemoveAll(tmpDir)

	localPath := filepath.Join(tmpDir, "result.arr")
	if err := writeResult(localPath, res); err != nil {
		return fmt.Errorf("task %s: write result: %w", t.TaskName, err)
	}

	start = time.Now()
	size, err := publish(localPath, outputPath)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.TaskName, err)
	}
	copyTime := time.Since(start)

	if err := os.WriteFile(statusPath, []byte(StatusMarkerContent), 0o644); err != nil {
		return fmt.Errorf("task %s: write status marker: %w", t.TaskName, err)
	}

	logger.Info("job done",
		"compute_time", computeTime.Round(time.Millisecond),
		"copy_time", copyTime.Round(time.Millisecond),
		"size", humanize.Bytes(uint64(size)),
	)
	return nil
}

// writeResult stores res as the node_result dataset of a new container.
func writeResult(path string, res *pipeline.Result) error {
	f, err := arraystore.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.CreateDataset(model.NodeResultDataset, res.Meta); err != nil {
		f.Close()
		return err
	}
	if err := f.WriteRegion(model.NodeResultDataset, model.FullRegion(res.Meta.Shape), res.Data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
