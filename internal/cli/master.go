package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/me/clusterize/internal/config"
	"github.com/me/clusterize/internal/coordinator"
	"github.com/me/clusterize/internal/server"
	"github.com/me/clusterize/internal/store"
	"github.com/me/clusterize/pkg/model"
)

func newMasterCmd() *cobra.Command {
	cfg := config.DefaultMasterConfig()
	var configPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "master",
		Short: "Partition the input, launch one job per region and merge the results",
		Example: `  clusterize master --input /groups/data/gigacube.arr --output /groups/results/pred.arr \
    --scratch-dir /groups/scratch --num-jobs 64 \
    --command-template "qsub -pe batch 4 -N {task_name} -j y -b y -cwd -V 'clusterize {args}'"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := overlayConfigFile(cmd.Flags(), configPath, &cfg); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMaster(ctx, cfg, asJSON, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML config file; explicit flags take precedence")
	f.StringVar(&cfg.Input, "input", cfg.Input, "Input array container")
	f.StringVar(&cfg.Dataset, "dataset", cfg.Dataset, "Dataset name inside the input container")
	f.StringVar(&cfg.Output, "output", cfg.Output, "Consolidated output container")
	f.StringVar(&cfg.ScratchDir, "scratch-dir", cfg.ScratchDir, "Shared directory for status and output files")
	f.StringVar(&cfg.TmpDir, "tmp-dir", cfg.TmpDir, "Worker-local temp directory (default: system temp)")
	f.StringVar(&cfg.CommandTemplate, "command-template", cfg.CommandTemplate, "Launch command; must contain {args}, may contain {task_name}")
	f.IntVar(&cfg.NumJobs, "num-jobs", cfg.NumJobs, "Target number of jobs")
	f.StringVar(&cfg.SplitAxes, "split-axes", cfg.SplitAxes, "Axis labels that may be split")
	f.StringVar(&cfg.Pipeline, "pipeline", cfg.Pipeline, "Per-region pipeline run by workers")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Give up on unfinished jobs after this long")
	f.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Time between status file scans")
	f.BoolVar(&cfg.TrackExit, "track-exit", cfg.TrackExit, "Fail a job when its launch command exits non-zero")
	f.StringVar(&cfg.WorkerLogLevel, "worker-log-level", cfg.WorkerLogLevel, "Log level passed to workers")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite ledger path (empty: no ledger)")
	f.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "Serve run status and metrics on this address")
	f.BoolVar(&asJSON, "json", false, "Print the report as JSON")

	return cmd
}

// overlayConfigFile loads path into cfg, then re-applies the flags given on
// the command line.
func overlayConfigFile(flags *pflag.FlagSet, path string, cfg *config.MasterConfig) error {
	changed := make(map[string]string)
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	if err := config.LoadMasterFile(path, cfg); err != nil {
		return err
	}
	for name, value := range changed {
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("re-apply --%s: %w", name, err)
		}
	}
	return nil
}

func runMaster(ctx context.Context, cfg config.MasterConfig, asJSON bool, out io.Writer) error {
	log := logger.With("component", "master")
	if err := cfg.Validate(); err != nil {
		return err
	}

	var ledger store.Ledger = store.Nop{}
	if cfg.DBPath != "" {
		st, err := store.NewSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
		ledger = st
	}

	coord, err := coordinator.New(cfg, coordinator.Deps{Ledger: ledger}, logger)
	if err != nil {
		return err
	}

	if cfg.StatusAddr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		srv := server.New(ledger, logger)
		go func() {
			if err := srv.ListenAndServe(srvCtx, cfg.StatusAddr); err != nil {
				log.Error("status server stopped", "error", err)
			}
		}()
	}

	report, runErr := coord.Run(ctx)
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if runErr != nil {
		return runErr
	}
	if !report.Success {
		return fmt.Errorf("run %s failed: %s", report.RunID, report.Error)
	}
	return nil
}

func printReport(w io.Writer, r *model.Report) {
	result := "SUCCEEDED"
	if !r.Success {
		result = "FAILED"
	}
	fmt.Fprintf(w, "Run %s %s\n", r.RunID, result)
	fmt.Fprintf(w, "  jobs:      %d completed, %d failed, %d total\n", len(r.Completed), len(r.Failures), r.JobCount)
	fmt.Fprintf(w, "  elapsed:   %s over %d poll pass(es)\n", r.Elapsed.Round(time.Second), r.Passes)
	fmt.Fprintf(w, "  merged:    %s\n", humanize.Bytes(uint64(r.Bytes)))
	if r.Copy.Count > 0 {
		fmt.Fprintf(w, "  copy time: p50 %s, p95 %s, max %s\n",
			r.Copy.P50.Round(time.Millisecond), r.Copy.P95.Round(time.Millisecond), r.Copy.Max.Round(time.Millisecond))
	}
	if len(r.Failures) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%-10s  %-10s  %-30s  %s\n", "JOB", "STATE", "REGION", "REASON")
	for _, f := range r.Failures {
		fmt.Fprintf(w, "%-10s  %-10s  %-30s  %s\n", f.Job, f.State, f.Region, f.Reason)
	}
}
