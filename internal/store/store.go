package store

import (
	"context"

	"github.com/me/clusterize/pkg/model"
)

// Ledger records runs and the state history of their jobs.
type Ledger interface {
	// Run records
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)

	// Job records
	CreateJob(ctx context.Context, runID string, job *model.Job) error
	UpdateJob(ctx context.Context, runID string, job *model.Job) error
	ListJobs(ctx context.Context, runID string, opts model.ListOptions) ([]*model.Job, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Nop is a Ledger that records nothing. It is used when no database is
// configured.
type Nop struct{}

var _ Ledger = Nop{}

func (Nop) CreateRun(context.Context, *model.Run) error { return nil }
func (Nop) FinishRun(context.Context, *model.Run) error { return nil }
func (Nop) GetRun(context.Context, string) (*model.Run, error) { return nil, nil }
func (Nop) CreateJob(context.Context, string, *model.Job) error { return nil }
func (Nop) UpdateJob(context.Context, string, *model.Job) error { return nil }
func (Nop) Close() error { return nil }
func (Nop) Migrate(context.Context) error { return nil }
func (Nop) ListRuns(context.Context, model.ListOptions) ([]*model.Run, int, error) {
	return nil, 0, nil
}
func (Nop) ListJobs(context.Context, string, model.ListOptions) ([]*model.Job, int, error) {
	return nil, 0, nil
}
