package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/clusterize/internal/arraystore"
)

type datasetInfo struct {
	Name  string   `json:"name"`
	Shape []int    `json:"shape"`
	DType string   `json:"dtype"`
	Axes  []string `json:"axes,omitempty"`
	Bytes int64    `json:"bytes"`
}

func newInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <container>",
		Short: "List the datasets stored in an array container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := arraystore.Open(args[0], false)
			if err != nil {
				return err
			}
			defer f.Close()

			var infos []datasetInfo
			for _, name := range f.Datasets() {
				ds, err := f.Dataset(name)
				if err != nil {
					return err
				}
				infos = append(infos, datasetInfo{
					Name:  ds.Name,
					Shape: ds.Meta.Shape,
					DType: ds.Meta.DType.String(),
					Axes:  ds.Meta.Axes,
					Bytes: ds.Meta.Bytes(),
				})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, "No datasets found.")
				return nil
			}
			fmt.Fprintf(out, "%-20s  %-20s  %-8s  %-8s  %s\n", "NAME", "SHAPE", "DTYPE", "AXES", "SIZE")
			for _, d := range infos {
				fmt.Fprintf(out, "%-20s  %-20s  %-8s  %-8s  %s\n",
					d.Name, fmt.Sprint(d.Shape), d.DType, strings.Join(d.Axes, ""), humanize.Bytes(uint64(d.Bytes)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
