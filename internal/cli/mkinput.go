package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/clusterize/internal/arraystore"
	"github.com/me/clusterize/pkg/model"
)

func newMkinputCmd() *cobra.Command {
	var (
		dataset string
		shape   []int
		axes    string
		dtype   string
		pattern string
	)

	cmd := &cobra.Command{
		Use:   "mkinput <container>",
		Short: "Create a synthetic input container for trial runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := arraystore.Meta{
				Shape: shape,
				DType: model.DType(strings.ToLower(dtype)),
				Axes:  strings.Split(axes, ""),
			}
			if axes == "" {
				meta.Axes = nil
			}
			if err := meta.Validate(); err != nil {
				return &model.ConfigError{Field: "shape", Msg: err.Error()}
			}
			fill, ok := fillPatterns[pattern]
			if !ok {
				return &model.ConfigError{Field: "pattern", Msg: fmt.Sprintf("unknown pattern %q", pattern)}
			}

			f, err := arraystore.Create(args[0])
			if err != nil {
				return err
			}
			if _, err := f.CreateDataset(dataset, meta); err != nil {
				f.Close()
				return err
			}
			if err := writeSlabs(f, dataset, meta, fill); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			logger.Info("created input", "path", args[0], "dataset", dataset,
				"shape", meta.Shape, "dtype", meta.DType, "size", humanize.Bytes(uint64(meta.Bytes())))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&dataset, "dataset", "data", "Dataset name")
	f.IntSliceVar(&shape, "shape", []int{64, 64, 16}, "Extent per axis")
	f.StringVar(&axes, "axes", "xyz", "One label character per axis")
	f.StringVar(&dtype, "dtype", string(model.Uint8), "Element type")
	f.StringVar(&pattern, "pattern", "ramp", "Fill pattern (ramp, zeros)")

	return cmd
}

// fillPatterns map a flat element index to a value.
var fillPatterns = map[string]func(i int64) float64{
	"ramp":  func(i int64) float64 { return float64(i % 251) },
	"zeros": func(int64) float64 { return 0 },
}

// writeSlabs fills the dataset one slab along the first axis at a time.
func writeSlabs(f *arraystore.File, dataset string, meta arraystore.Meta, fill func(int64) float64) error {
	slab := append([]int{1}, meta.Shape[1:]...)
	per := 1
	for _, d := range slab {
		per *= d
	}
	buf := make([]byte, per*meta.DType.ItemSize())

	for s := 0; s < meta.Shape[0]; s++ {
		for i := 0; i < per; i++ {
			arraystore.PutValue(meta.DType, buf, i, fill(int64(s)*int64(per)+int64(i)))
		}
		r := model.FullRegion(meta.Shape)
		r.Start[0], r.Stop[0] = s, s+1
		if err := f.WriteRegion(dataset, r, buf); err != nil {
			return fmt.Errorf("write slab %d: %w", s, err)
		}
	}
	return nil
}
