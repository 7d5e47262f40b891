package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/clusterize/internal/store"
	"github.com/me/clusterize/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testServer returns a server over an in-memory ledger holding one failed
// run with three jobs.
func testServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	run := &model.Run{ID: "run_1", Input: "/in.arr", Output: "/out.arr", JobCount: 3,
		State: model.RunStateRunning, StartedAt: time.Now().UTC()}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		job := model.NewJob(model.TaskName(i), model.Region{Start: []int{i}, Stop: []int{i + 1}}, "/scratch")
		st.CreateJob(ctx, run.ID, job)
		job.Transition(model.JobStateRunning, "")
		if i == 2 {
			job.Transition(model.JobStateTimedOut, "no status marker within 10m0s")
		} else {
			job.Transition(model.JobStateCompleted, "")
		}
		st.UpdateJob(ctx, run.ID, job)
	}
	now := time.Now().UTC()
	run.State, run.Error, run.FinishedAt = model.RunStateFailed, "timed out", &now
	st.FinishRun(ctx, run)

	return New(st, testLogger())
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func doGet(t *testing.T, srv *Server, path string, wantStatus int) envelope {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("GET %s: status=%d, want %d, body=%s", path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("GET %s: invalid JSON: %v", path, err)
	}
	return env
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	for _, path := range []string{"/healthz", "/api/v1/health"} {
		env := doGet(t, srv, path, http.StatusOK)
		if env.Status != "ok" || !strings.HasPrefix(env.RequestID, "req_") {
			t.Errorf("%s: envelope = %+v", path, env)
		}
		var data healthResponse
		json.Unmarshal(env.Data, &data)
		if data.Status != "healthy" || data.ActiveRuns != 0 {
			t.Errorf("%s: health = %+v", path, data)
		}
	}
}

type brokenLedger struct{ store.Nop }

func (brokenLedger) ListRuns(context.Context, model.ListOptions) ([]*model.Run, int, error) {
	return nil, 0, errors.New("database is locked")
}

func TestHealth_DegradedLedger(t *testing.T) {
	env := doGet(t, New(brokenLedger{}, testLogger()), "/healthz", http.StatusOK)
	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "degraded" || data.LedgerError != "database is locked" {
		t.Errorf("health = %+v", data)
	}
}

func TestDiscovery(t *testing.T) {
	env := doGet(t, testServer(t), "/api/v1/", http.StatusOK)
	var data discoveryResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Name != "clusterize" || len(data.Endpoints) == 0 {
		t.Errorf("discovery = %+v", data)
	}
}

func TestListRuns(t *testing.T) {
	env := doGet(t, testServer(t), "/api/v1/runs", http.StatusOK)
	var runs []model.Run
	if err := json.Unmarshal(env.Data, &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "run_1" || runs[0].State != model.RunStateFailed {
		t.Errorf("runs = %+v", runs)
	}
	if env.Pagination == nil || env.Pagination.Total != 1 || env.Pagination.HasMore {
		t.Errorf("pagination = %+v", env.Pagination)
	}
}

func TestListRuns_BadLimit(t *testing.T) {
	env := doGet(t, testServer(t), "/api/v1/runs?limit=many", http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestGetRun(t *testing.T) {
	srv := testServer(t)
	env := doGet(t, srv, "/api/v1/runs/run_1", http.StatusOK)
	var run model.Run
	json.Unmarshal(env.Data, &run)
	if run.Error != "timed out" || run.FinishedAt == nil {
		t.Errorf("run = %+v", run)
	}

	env = doGet(t, srv, "/api/v1/runs/run_404", http.StatusNotFound)
	if env.Status != "error" || env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("envelope = %+v", env)
	}
}

func TestListJobs(t *testing.T) {
	srv := testServer(t)
	env := doGet(t, srv, "/api/v1/runs/run_1/jobs", http.StatusOK)
	var jobs []model.Job
	if err := json.Unmarshal(env.Data, &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 || jobs[0].Name != "TASK_0" || jobs[2].State != model.JobStateTimedOut {
		t.Errorf("jobs = %+v", jobs)
	}

	env = doGet(t, srv, "/api/v1/runs/run_1/jobs?state=TIMED_OUT", http.StatusOK)
	jobs = nil
	json.Unmarshal(env.Data, &jobs)
	if len(jobs) != 1 || jobs[0].Name != "TASK_2" {
		t.Errorf("filtered jobs = %+v", jobs)
	}

	doGet(t, srv, "/api/v1/runs/run_404/jobs", http.StatusNotFound)
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	testServer(t).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "clusterize_") {
		t.Error("metrics exposition missing clusterize collectors")
	}
}

func TestNopLedger(t *testing.T) {
	srv := New(nil, testLogger())
	env := doGet(t, srv, "/api/v1/runs", http.StatusOK)
	if string(env.Data) != "[]" {
		t.Errorf("data = %s, want []", env.Data)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	srv := New(nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
