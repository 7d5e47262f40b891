package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/me/clusterize/internal/logging"
)

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the clusterize binary. The
// same binary acts as coordinator (master) and as spawned worker.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clusterize",
		Short: "clusterize: split an N-d array into regions and process them on a cluster",
		Long: "clusterize partitions a large array into sub-volumes, runs one worker job per sub-volume " +
			"through a batch-queue command template and merges the results into one output.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			level, err := logging.ParseLevel(flagLogLevel)
			if err != nil {
				return err
			}
			logger = logging.NewLoggerWithWriter(logging.Options{Level: level, Format: flagLogFormat}, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newMasterCmd(),
		newWorkerCmd(),
		newPlanCmd(),
		newJobsCmd(),
		newInspectCmd(),
		newMkinputCmd(),
	)

	return root
}
