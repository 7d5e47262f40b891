package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/clusterize/internal/config"
	"github.com/me/clusterize/internal/logging"
	"github.com/me/clusterize/internal/pipeline"
	"github.com/me/clusterize/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	cfg := config.DefaultWorkerConfig()

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process one region (started by the master through the command template)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			wlog := logging.WithProcess(logger, cfg.ProcessName)
			runner := worker.NewRunner(pipeline.DefaultRegistry(wlog), wlog)
			return runner.Run(ctx, worker.Task{
				EncodedRegion: cfg.NodeWork,
				TaskName:      cfg.ProcessName,
				ScratchDir:    cfg.ScratchDir,
				TmpDir:        cfg.TmpDir,
				Input:         cfg.Input,
				Dataset:       cfg.Dataset,
				Pipeline:      cfg.Pipeline,
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Input, "input", cfg.Input, "Input array container")
	f.StringVar(&cfg.Dataset, "dataset", cfg.Dataset, "Dataset name inside the input container")
	f.StringVar(&cfg.ScratchDir, "scratch-dir", cfg.ScratchDir, "Shared directory for status and output files")
	f.StringVar(&cfg.TmpDir, "tmp-dir", cfg.TmpDir, "Local temp directory")
	f.StringVar(&cfg.Pipeline, "pipeline", cfg.Pipeline, "Per-region pipeline")
	f.StringVar(&cfg.NodeWork, "node-work", cfg.NodeWork, "Encoded region to process")
	f.StringVar(&cfg.ProcessName, "process-name", cfg.ProcessName, "Task name used in file names and logs")

	return cmd
}
