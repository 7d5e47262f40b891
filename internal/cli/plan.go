package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/clusterize/internal/partition"
	"github.com/me/clusterize/internal/pipeline"
	"github.com/me/clusterize/pkg/model"
)

type planEntry struct {
	Job    string       `json:"job"`
	Region model.Region `json:"region"`
	Shape  []int        `json:"shape"`
	Token  string       `json:"token"`
}

func newPlanCmd() *cobra.Command {
	var (
		input, dataset, splitAxes string
		numJobs                   int
		asJSON                    bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show how the input would be partitioned, without launching anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return &model.ConfigError{Field: "input", Msg: "is required"}
			}
			if numJobs <= 0 {
				return &model.ConfigError{Field: "num_jobs", Msg: fmt.Sprintf("must be positive, got %d", numJobs)}
			}

			in, err := pipeline.OpenInput(input, dataset)
			if err != nil {
				return err
			}
			defer in.Close()
			shape, err := in.Shape()
			if err != nil {
				return err
			}

			regions := partition.Partition(shape, numJobs, splitAxes)
			if err := partition.Validate(regions, shape.Extents()); err != nil {
				return err
			}

			entries := make([]planEntry, len(regions))
			for i, r := range regions {
				token, err := model.EncodeRegion(r)
				if err != nil {
					return err
				}
				entries[i] = planEntry{Job: model.TaskName(i), Region: r, Shape: r.Shape(), Token: token}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			fmt.Fprintf(out, "Input %s/%s %s: %d region(s) for %d requested job(s)\n\n", input, dataset, shape, len(regions), numJobs)
			fmt.Fprintf(out, "%-10s  %-30s  %s\n", "JOB", "REGION", "SHAPE")
			for _, e := range entries {
				fmt.Fprintf(out, "%-10s  %-30s  %v\n", e.Job, e.Region.Key(), e.Shape)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&input, "input", "", "Input array container")
	f.StringVar(&dataset, "dataset", "data", "Dataset name inside the input container")
	f.IntVar(&numJobs, "num-jobs", 1, "Target number of jobs")
	f.StringVar(&splitAxes, "split-axes", model.DefaultSplittableAxes, "Axis labels that may be split")
	f.BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}
