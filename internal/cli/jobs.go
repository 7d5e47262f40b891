package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/clusterize/internal/store"
	"github.com/me/clusterize/pkg/model"
)

func newJobsCmd() *cobra.Command {
	var (
		dbPath string
		state  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "jobs [run-id]",
		Short: "List recorded runs, or the jobs of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return &model.ConfigError{Field: "db", Msg: "is required"}
			}
			st, err := store.NewSQLiteStore(dbPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()
			if err := st.Migrate(ctx); err != nil {
				return err
			}

			opts := model.ListOptions{Limit: limit, State: state}
			opts.Clamp()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, total, err := st.ListRuns(ctx, opts)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs found.")
					return nil
				}
				fmt.Fprintf(out, "%-40s  %-10s  %-5s  %-20s  %s\n", "ID", "STATE", "JOBS", "STARTED", "INPUT")
				for _, r := range runs {
					fmt.Fprintf(out, "%-40s  %-10s  %-5d  %-20s  %s\n",
						r.ID, r.State, r.JobCount, humanize.Time(r.StartedAt), r.Input)
				}
				if total > len(runs) {
					fmt.Fprintf(out, "\n(%d of %d runs shown)\n", len(runs), total)
				}
				return nil
			}

			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return model.NewNotFoundError("run", args[0])
			}
			jobs, total, err := st.ListJobs(ctx, run.ID, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Run %s: %s (%d jobs)\n", run.ID, run.State, run.JobCount)
			if run.Error != "" {
				fmt.Fprintf(out, "  error: %s\n", run.Error)
			}
			fmt.Fprintf(out, "\n%-10s  %-10s  %-30s  %-10s  %-10s  %s\n", "JOB", "STATE", "REGION", "SIZE", "DURATION", "REASON")
			for _, j := range jobs {
				size := "-"
				if j.Bytes > 0 {
					size = humanize.Bytes(uint64(j.Bytes))
				}
				fmt.Fprintf(out, "%-10s  %-10s  %-30s  %-10s  %-10s  %s\n",
					j.Name, j.State, j.Region.Key(), size, jobDuration(j), j.Reason)
			}
			if total > len(jobs) {
				fmt.Fprintf(out, "\n(%d of %d jobs shown)\n", len(jobs), total)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&dbPath, "db", "", "SQLite ledger path")
	f.StringVar(&state, "state", "", "Filter by state")
	f.IntVar(&limit, "limit", 100, "Maximum number of rows")

	return cmd
}

func jobDuration(j *model.Job) string {
	if j.LaunchedAt == nil || j.FinishedAt == nil {
		return "-"
	}
	return j.FinishedAt.Sub(*j.LaunchedAt).Round(time.Second).String()
}
