package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/clusterize/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Ledger using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Ledger = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// WAL lets the status server read while the poller writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	state := run.State
	if state == "" {
		state = model.RunStateRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input, output, job_count, state, success, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Input, run.Output, run.JobCount, string(state), boolToInt(run.Success), run.Error,
		run.StartedAt.Format(time.RFC3339Nano), nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "state", run.State)

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET job_count = ?, state = ?, success = ?, error = ?, finished_at = ? WHERE id = ?`,
		run.JobCount, string(run.State), boolToInt(run.Success), run.Error, nullTime(run.FinishedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: not found", run.ID)
	}
	return nil
}

// GetRun returns nil, nil when the run does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, input, output, job_count, state, success, error, started_at, finished_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	where, args := "", []any{}
	if opts.State != "" {
		where = " WHERE state = ?"
		args = append(args, opts.State)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, input, output, job_count, state, success, error, started_at, finished_at
		 FROM runs`+where+` ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, runID string, job *model.Job) error {
	s.logger.Debug("sql", "op", "insert", "table", "jobs", "run", runID, "job", job.Name)

	regionJSON, err := json.Marshal(job.Region)
	if err != nil {
		return fmt.Errorf("marshal region: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (run_id, name, region, command, status_path, output_path, state, reason, bytes, launched_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, job.Name, string(regionJSON), job.Command, job.StatusPath, job.OutputPath,
		string(job.State), job.Reason, job.Bytes, nullTime(job.LaunchedAt), nullTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job %s/%s: %w", runID, job.Name, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, runID string, job *model.Job) error {
	s.logger.Debug("sql", "op", "update", "table", "jobs", "run", runID, "job", job.Name, "state", job.State)

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET command = ?, state = ?, reason = ?, bytes = ?, launched_at = ?, finished_at = ?
		 WHERE run_id = ? AND name = ?`,
		job.Command, string(job.State), job.Reason, job.Bytes,
		nullTime(job.LaunchedAt), nullTime(job.FinishedAt), runID, job.Name,
	)
	if err != nil {
		return fmt.Errorf("update job %s/%s: %w", runID, job.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update job %s/%s: not found", runID, job.Name)
	}
	return nil
}

// ListJobs returns a run's jobs in launch order.
func (s *SQLiteStore) ListJobs(ctx context.Context, runID string, opts model.ListOptions) ([]*model.Job, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs", "run", runID, "state", opts.State)
	opts.Clamp()

	where, args := " WHERE run_id = ?", []any{runID}
	if opts.State != "" {
		where += " AND state = ?"
		args = append(args, opts.State)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, region, command, status_path, output_path, state, reason, bytes, launched_at, finished_at
		 FROM jobs`+where+` ORDER BY rowid LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		var job model.Job
		var regionJSON, state string
		var launchedAt, finishedAt sql.NullString
		if err := rows.Scan(&job.Name, &regionJSON, &job.Command, &job.StatusPath, &job.OutputPath,
			&state, &job.Reason, &job.Bytes, &launchedAt, &finishedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(regionJSON), &job.Region); err != nil {
			return nil, 0, fmt.Errorf("unmarshal region of %s: %w", job.Name, err)
		}
		job.State = model.JobState(state)
		job.LaunchedAt = parseNullTime(launchedAt)
		job.FinishedAt = parseNullTime(finishedAt)
		jobs = append(jobs, &job)
	}
	return jobs, total, rows.Err()
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	var run model.Run
	var state, startedAt string
	var success int
	var finishedAt sql.NullString
	if err := sc.Scan(&run.ID, &run.Input, &run.Output, &run.JobCount, &state, &success, &run.Error,
		&startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.State = model.RunState(state)
	run.Success = success != 0
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	run.FinishedAt = parseNullTime(finishedAt)
	return &run, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
