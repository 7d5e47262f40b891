// Package aggregator merges per-job results into the consolidated output.
package aggregator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/dustin/go-humanize"

	"github.com/me/clusterize/internal/arraystore"
	"github.com/me/clusterize/internal/metrics"
	"github.com/me/clusterize/pkg/model"
)

// Config configures an Aggregator.
type Config struct {
	OutputPath string
	Dataset    string          // defaults to model.ClusterResultDataset
	Expected   arraystore.Meta // metadata of the full consolidated dataset
}

// Aggregator validates job outputs and copies them into their region of
// the consolidated dataset. The output container is opened on first use.
// Not safe for concurrent use; the poller calls it from one goroutine.
type Aggregator struct {
	cfg    Config
	out    *arraystore.File
	hist   *hdrhistogram.Histogram // copy latency in microseconds
	bytes  int64
	logger *slog.Logger
}

// New creates an Aggregator.
func New(cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.Dataset == "" {
		cfg.Dataset = model.ClusterResultDataset
	}
	return &Aggregator{
		cfg:    cfg,
		hist:   hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3),
		logger: logger.With("component", "aggregator"),
	}
}

// Aggregate copies job's result into the consolidated output and records
// the byte count on job. It returns *model.MissingOutputError when the
// output file is absent and *model.ValidationError when its contents do not
// match; in both cases the consolidated output is left untouched.
func (a *Aggregator) Aggregate(job *model.Job) error {
	start := time.Now()

	if _, err := os.Stat(job.OutputPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &model.MissingOutputError{Job: job.Name, Path: job.OutputPath}
		}
		return fmt.Errorf("aggregate %s: %w", job.Name, err)
	}

	in, err := arraystore.Open(job.OutputPath, false)
	if err != nil {
		return &model.ValidationError{Job: job.Name, Field: "container", Got: err.Error(), Want: "readable array container"}
	}
	defer in.Close()

	ds, err := in.Dataset(model.NodeResultDataset)
	if err != nil {
		return &model.ValidationError{
			Job: job.Name, Field: "dataset",
			Got: strings.Join(in.Datasets(), ","), Want: model.NodeResultDataset,
		}
	}
	if err := a.validate(job, ds.Meta); err != nil {
		return err
	}

	data, err := in.ReadAll(model.NodeResultDataset)
	if err != nil {
		return fmt.Errorf("aggregate %s: read result: %w", job.Name, err)
	}

	if err := a.ensureOutput(job.Name); err != nil {
		return err
	}
	if err := a.out.WriteRegion(a.cfg.Dataset, job.Region, data); err != nil {
		return fmt.Errorf("aggregate %s: write region %s: %w", job.Name, job.Region.Key(), err)
	}

	elapsed := time.Since(start)
	n := int64(len(data))
	job.Bytes = n
	a.bytes += n
	a.hist.RecordValue(max(elapsed.Microseconds(), 1))
	metrics.ObserveAggregate(elapsed, n)

	a.logger.Info("aggregated job",
		"job", job.Name,
		"region", job.Region.Key(),
		"size", humanize.Bytes(uint64(n)),
		"duration", elapsed.Round(time.Millisecond),
	)
	return nil
}

func (a *Aggregator) validate(job *model.Job, got arraystore.Meta) error {
	want := job.Region.Shape()
	if !slices.Equal(got.Shape, want) {
		return &model.ValidationError{Job: job.Name, Field: "shape", Got: fmt.Sprint(got.Shape), Want: fmt.Sprint(want)}
	}
	if got.DType != a.cfg.Expected.DType {
		return &model.ValidationError{Job: job.Name, Field: "dtype", Got: got.DType.String(), Want: a.cfg.Expected.DType.String()}
	}
	if !slices.Equal(got.Axes, a.cfg.Expected.Axes) {
		return &model.ValidationError{
			Job: job.Name, Field: "axes",
			Got: strings.Join(got.Axes, ""), Want: strings.Join(a.cfg.Expected.Axes, ""),
		}
	}
	return nil
}

// ensureOutput opens or creates the consolidated container and dataset.
func (a *Aggregator) ensureOutput(jobName string) error {
	if a.out != nil {
		return nil
	}
	f, err := arraystore.OpenOrCreate(a.cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("open output %s: %w", a.cfg.OutputPath, err)
	}

	ds, err := f.Dataset(a.cfg.Dataset)
	switch {
	case err == nil:
		if !ds.Meta.Equal(a.cfg.Expected) {
			f.Close()
			return &model.ValidationError{
				Job: jobName, Field: "output dataset",
				Got: fmt.Sprintf("%v %s", ds.Meta.Shape, ds.Meta.DType), Want: fmt.Sprintf("%v %s", a.cfg.Expected.Shape, a.cfg.Expected.DType),
			}
		}
		a.logger.Warn("reusing existing output dataset", "path", a.cfg.OutputPath, "dataset", a.cfg.Dataset)
	case errors.Is(err, arraystore.ErrNoDataset):
		if _, err := f.CreateDataset(a.cfg.Dataset, a.cfg.Expected); err != nil {
			f.Close()
			return fmt.Errorf("create output dataset: %w", err)
		}
		a.logger.Info("created output dataset",
			"path", a.cfg.OutputPath,
			"dataset", a.cfg.Dataset,
			"size", humanize.Bytes(uint64(a.cfg.Expected.Bytes())),
		)
	default:
		f.Close()
		return fmt.Errorf("open output dataset: %w", err)
	}
	a.out = f
	return nil
}

// Bytes returns the total payload bytes aggregated so far.
func (a *Aggregator) Bytes() int64 {
	return a.bytes
}

// Stats summarizes the copy latency of every aggregated job.
func (a *Aggregator) Stats() model.CopyStats {
	if a.hist.TotalCount() == 0 {
		return model.CopyStats{}
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return model.CopyStats{
		Count: int(a.hist.TotalCount()),
		P50:   us(a.hist.ValueAtQuantile(50)),
		P95:   us(a.hist.ValueAtQuantile(95)),
		Max:   us(a.hist.Max()),
	}
}

// Close flushes and closes the consolidated output if it was opened.
func (a *Aggregator) Close() error {
	if a.out == nil {
		return nil
	}
	f := a.out
	a.out = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync output: %w", err)
	}
	return f.Close()
}
