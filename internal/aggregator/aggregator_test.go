package aggregator

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/me/clusterize/internal/arraystore"
	"github.com/me/clusterize/pkg/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fullMeta = arraystore.Meta{Shape: []int{4, 4}, DType: model.Uint8, Axes: []string{"x", "y"}}

// writeResult writes a node_result container for job filled with fill.
func writeResult(t *testing.T, job *model.Job, meta arraystore.Meta, fill byte) {
	t.Helper()
	f, err := arraystore.Create(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.CreateDataset(model.NodeResultDataset, meta); err != nil {
		t.Fatal(err)
	}
	data := make([]byte, meta.Bytes())
	for i := range data {
		data[i] = fill
	}
	if err := f.WriteRegion(model.NodeResultDataset, model.FullRegion(meta.Shape), data); err != nil {
		t.Fatal(err)
	}
}

func quadrantJobs(scratch string) []*model.Job {
	return []*model.Job{
		model.NewJob("TASK_0", model.Region{Start: []int{0, 0}, Stop: []int{2, 4}}, scratch),
		model.NewJob("TASK_1", model.Region{Start: []int{2, 0}, Stop: []int{4, 4}}, scratch),
	}
}

func regionMeta(r model.Region) arraystore.Meta {
	return arraystore.Meta{Shape: r.Shape(), DType: fullMeta.DType, Axes: fullMeta.Axes}
}

func TestAggregate(t *testing.T) {
	scratch := t.TempDir()
	outPath := filepath.Join(t.TempDir(), "out.arr")
	agg := New(Config{OutputPath: outPath, Expected: fullMeta}, discardLogger())

	jobs := quadrantJobs(scratch)
	for i, job := range jobs {
		writeResult(t, job, regionMeta(job.Region), byte(i+1))
		if err := agg.Aggregate(job); err != nil {
			t.Fatalf("Aggregate %s: %v", job.Name, err)
		}
		if job.Bytes != 8 {
			t.Errorf("%s Bytes = %d, want 8", job.Name, job.Bytes)
		}
	}
	if err := agg.Close(); err != nil {
		t.Fatal(err)
	}

	if agg.Bytes() != 16 {
		t.Errorf("Bytes() = %d, want 16", agg.Bytes())
	}
	if st := agg.Stats(); st.Count != 2 || st.Max < st.P50 {
		t.Errorf("Stats() = %+v", st)
	}

	out, err := arraystore.Open(outPath, false)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	data, err := out.ReadAll(model.ClusterResultDataset)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range data {
		want := byte(1)
		if i >= 8 {
			want = 2
		}
		if v != want {
			t.Fatalf("element %d = %d, want %d", i, v, want)
		}
	}
}

func TestAggregate_MissingOutput(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.arr")
	agg := New(Config{OutputPath: outPath, Expected: fullMeta}, discardLogger())
	job := quadrantJobs(t.TempDir())[0]

	err := agg.Aggregate(job)
	var me *model.MissingOutputError
	if !errors.As(err, &me) || me.Job != "TASK_0" {
		t.Fatalf("err = %v, want MissingOutputError", err)
	}
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Error("output container should not be created")
	}
}

func TestAggregate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		meta  func(r model.Region) arraystore.Meta
		field string
	}{
		{"shape", func(r model.Region) arraystore.Meta {
			return arraystore.Meta{Shape: []int{1, 4}, DType: model.Uint8, Axes: []string{"x", "y"}}
		}, "shape"},
		{"dtype", func(r model.Region) arraystore.Meta {
			return arraystore.Meta{Shape: r.Shape(), DType: model.Float32, Axes: []string{"x", "y"}}
		}, "dtype"},
		{"axes", func(r model.Region) arraystore.Meta {
			return arraystore.Meta{Shape: r.Shape(), DType: model.Uint8, Axes: []string{"y", "x"}}
		}, "axes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outPath := filepath.Join(t.TempDir(), "out.arr")
			agg := New(Config{OutputPath: outPath, Expected: fullMeta}, discardLogger())
			job := quadrantJobs(t.TempDir())[0]
			writeResult(t, job, tt.meta(job.Region), 7)

			err := agg.Aggregate(job)
			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
			if !model.IsFatal(err) {
				t.Error("validation errors must be fatal")
			}
			if _, err := os.Stat(outPath); !os.IsNotExist(err) {
				t.Error("nothing may be written before validation passes")
			}
		})
	}
}

func TestAggregate_WrongDatasetName(t *testing.T) {
	job := quadrantJobs(t.TempDir())[0]
	f, err := arraystore.Create(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	f.CreateDataset("predictions", regionMeta(job.Region))
	f.Close()

	agg := New(Config{OutputPath: filepath.Join(t.TempDir(), "out.arr"), Expected: fullMeta}, discardLogger())
	var ve *model.ValidationError
	if err := agg.Aggregate(job); !errors.As(err, &ve) || ve.Field != "dataset" {
		t.Errorf("err = %v, want dataset ValidationError", err)
	}
}

func TestAggregate_CorruptContainer(t *testing.T) {
	hugeLen := make([]byte, 8)
	binary.LittleEndian.PutUint64(hugeLen, math.MaxInt64-2)

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte("not a container")},
		{"header length near MaxInt64", append(append([]byte("NDAS1\n"), hugeLen...), "{}"...)},
	}
	for _, tt := range tests {
		job := quadrantJobs(t.TempDir())[0]
		if err := os.WriteFile(job.OutputPath, tt.data, 0o644); err != nil {
			t.Fatal(err)
		}

		agg := New(Config{OutputPath: filepath.Join(t.TempDir(), "out.arr"), Expected: fullMeta}, discardLogger())
		err := agg.Aggregate(job)
		var ve *model.ValidationError
		if !errors.As(err, &ve) || ve.Field != "container" {
			t.Errorf("%s: err = %v, want container ValidationError", tt.name, err)
		}
		if !model.IsFatal(err) {
			t.Errorf("%s: corrupt worker output should be fatal", tt.name)
		}
	}
}

func TestAggregate_ExistingOutputDataset(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.arr")
	f, err := arraystore.Create(outPath)
	if err != nil {
		t.Fatal(err)
	}
	f.CreateDataset(model.ClusterResultDataset, arraystore.Meta{Shape: []int{8, 8}, DType: model.Uint8, Axes: []string{"x", "y"}})
	f.Close()

	agg := New(Config{OutputPath: outPath, Expected: fullMeta}, discardLogger())
	job := quadrantJobs(t.TempDir())[0]
	writeResult(t, job, regionMeta(job.Region), 1)

	var ve *model.ValidationError
	if err := agg.Aggregate(job); !errors.As(err, &ve) || ve.Field != "output dataset" {
		t.Errorf("err = %v, want output dataset ValidationError", err)
	}
}

func TestAggregate_ReusesMatchingOutputDataset(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.arr")
	f, err := arraystore.Create(outPath)
	if err != nil {
		t.Fatal(err)
	}
	f.CreateDataset(model.ClusterResultDataset, fullMeta)
	f.Close()

	agg := New(Config{OutputPath: outPath, Expected: fullMeta}, discardLogger())
	job := quadrantJobs(t.TempDir())[1]
	writeResult(t, job, regionMeta(job.Region), 9)
	if err := agg.Aggregate(job); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	agg.Close()
}

func TestClose_Idempotent(t *testing.T) {
	agg := New(Config{OutputPath: filepath.Join(t.TempDir(), "out.arr"), Expected: fullMeta}, discardLogger())
	if err := agg.Close(); err != nil {
		t.Errorf("Close before use: %v", err)
	}
	if st := agg.Stats(); st.Count != 0 {
		t.Errorf("Stats() = %+v, want zero", st)
	}
}
