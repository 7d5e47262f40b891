// Package pipeline holds the per-region compute capabilities a worker can run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/me/clusterize/internal/arraystore"
	"github.com/me/clusterize/pkg/model"
)

// Input is the full input dataset a computation reads from.
type Input struct {
	File    *arraystore.File
	Dataset string
	Meta    arraystore.Meta
}

// OpenInput opens the named dataset of the container at path read-only.
func OpenInput(path, dataset string) (*Input, error) {
	f, err := arraystore.Open(path, false)
	if err != nil {
		return nil, err
	}
	ds, err := f.Dataset(dataset)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Input{File: f, Dataset: dataset, Meta: ds.Meta}, nil
}

// Close releases the underlying container.
func (in *Input) Close() error {
	return in.File.Close()
}

// Shape returns the labelled shape of the input.
func (in *Input) Shape() (model.Shape, error) {
	return in.Meta.ShapeOf()
}

// Result is a computed region plus the metadata describing it.
type Result struct {
	Meta arraystore.Meta
	Data []byte
}

// Computer produces the result for one region of the input.
type Computer interface {
	// Name returns the registry key.
	Name() string

	// OutputMeta returns the metadata of the full consolidated output for an
	// input with the given metadata.
	OutputMeta(in arraystore.Meta) arraystore.Meta

	// Compute returns the result for region r. Its Meta.Shape must equal r.Shape().
	Compute(ctx context.Context, in *Input, r model.Region) (*Result, error)
}

// Registry maps pipeline names to Computers.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	computers map[string]Computer
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		computers: make(map[string]Computer),
		logger:    logger.With("component", "pipeline-registry"),
	}
}

// DefaultRegistry returns a Registry with the built-in pipelines.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(Copy{})
	r.Register(Invert{})
	return r
}

// Register adds a Computer, keyed by its Name().
func (r *Registry) Register(c Computer) {
	r.computers[c.Name()] = c
	r.logger.Debug("pipeline registered", "name", c.Name())
}

// Get returns the named Computer or an error if none is registered.
func (r *Registry) Get(name string) (Computer, error) {
	c, ok := r.computers[name]
	if !ok {
		return nil, fmt.Errorf("no pipeline registered with name %q", name)
	}
	return c, nil
}

// Names lists registered pipelines in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.computers))
	for n := range r.computers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
