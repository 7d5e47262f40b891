package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/me/clusterize/internal/store"
	"github.com/me/clusterize/pkg/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAggregator struct {
	mu   sync.Mutex
	seen []string
	errs map[string]error
}

func (f *fakeAggregator) Aggregate(job *model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, job.Name)
	return f.errs[job.Name]
}

type countingLedger struct {
	store.Nop
	mu      sync.Mutex
	updates map[string]model.JobState
}

func (l *countingLedger) UpdateJob(_ context.Context, _ string, job *model.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.updates == nil {
		l.updates = make(map[string]model.JobState)
	}
	l.updates[job.Name] = job.State
	return nil
}

func runningJobs(t *testing.T, n int) []*model.Job {
	t.Helper()
	scratch := t.TempDir()
	jobs := make([]*model.Job, n)
	for i := range jobs {
		r := model.Region{Start: []int{i * 10}, Stop: []int{(i + 1) * 10}}
		jobs[i] = model.NewJob(model.TaskName(i), r, scratch)
		if err := jobs[i].Transition(model.JobStateRunning, ""); err != nil {
			t.Fatal(err)
		}
	}
	return jobs
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("Yay!"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fastConfig() Config {
	return Config{PollInterval: 5 * time.Millisecond, Timeout: 2 * time.Second, RunID: "run_test"}
}

func TestPoll_AllMarkersPresent(t *testing.T) {
	jobs := runningJobs(t, 3)
	for _, j := range jobs {
		touch(t, j.StatusPath)
	}
	agg := &fakeAggregator{}
	ledger := &countingLedger{}
	p := New(fastConfig(), agg, ledger, discardLogger())

	res, err := p.Poll(context.Background(), jobs, nil, time.Now())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Passes != 1 || res.Completed != 3 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	if strings.Join(agg.seen, ",") != "TASK_0,TASK_1,TASK_2" {
		t.Errorf("aggregation order = %v", agg.seen)
	}
	for _, j := range jobs {
		if j.State != model.JobStateCompleted || j.FinishedAt == nil {
			t.Errorf("%s state = %s", j.Name, j.State)
		}
		if ledger.updates[j.Name] != model.JobStateCompleted {
			t.Errorf("ledger state of %s = %s", j.Name, ledger.updates[j.Name])
		}
	}
}

func TestPoll_MarkersAppearLater(t *testing.T) {
	jobs := runningJobs(t, 2)
	touch(t, jobs[0].StatusPath)
	go func() {
		time.Sleep(30 * time.Millisecond)
		os.WriteFile(jobs[1].StatusPath, []byte("Yay!"), 0o644)
	}()

	p := New(fastConfig(), &fakeAggregator{}, nil, discardLogger())
	res, err := p.Poll(context.Background(), jobs, nil, time.Now())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Completed != 2 || res.Passes < 2 {
		t.Errorf("result = %+v, want 2 completed over several passes", res)
	}
}

func TestPoll_Timeout(t *testing.T) {
	jobs := runningJobs(t, 3)
	touch(t, jobs[1].StatusPath)

	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	p := New(cfg, &fakeAggregator{}, nil, discardLogger())

	start := time.Now()
	res, err := p.Poll(context.Background(), jobs, nil, start)
	var te *model.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if strings.Join(te.Unfinished, ",") != "TASK_0,TASK_2" {
		t.Errorf("Unfinished = %v", te.Unfinished)
	}
	if te.Elapsed < cfg.Timeout {
		t.Errorf("Elapsed = %s, want >= %s", te.Elapsed, cfg.Timeout)
	}
	if res.Completed != 1 || res.Failed != 2 {
		t.Errorf("result = %+v", res)
	}
	if jobs[0].State != model.JobStateTimedOut || jobs[1].State != model.JobStateCompleted {
		t.Errorf("states = %s, %s", jobs[0].State, jobs[1].State)
	}
}

func TestPoll_TimeoutEqualToIntervalGivesOnePass(t *testing.T) {
	jobs := runningJobs(t, 1)
	cfg := Config{PollInterval: 10 * time.Millisecond, Timeout: 10 * time.Millisecond}
	p := New(cfg, &fakeAggregator{}, nil, discardLogger())

	res, err := p.Poll(context.Background(), jobs, nil, time.Now())
	var te *model.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if res.Passes != 1 {
		t.Errorf("Passes = %d, want 1", res.Passes)
	}
}

func TestPoll_AggregationErrorAbortsRun(t *testing.T) {
	jobs := runningJobs(t, 4)
	for _, j := range jobs {
		touch(t, j.StatusPath)
	}
	agg := &fakeAggregator{errs: map[string]error{
		"TASK_1": &model.ValidationError{Job: "TASK_1", Field: "dtype", Got: "float32", Want: "uint8"},
	}}
	p := New(fastConfig(), agg, nil, discardLogger())

	res, err := p.Poll(context.Background(), jobs, nil, time.Now())
	if !model.IsFatal(err) {
		t.Fatalf("err = %v, want a fatal validation error", err)
	}
	if res.Completed != 1 || res.Failed != 3 {
		t.Errorf("result = %+v", res)
	}
	if jobs[0].State != model.JobStateCompleted {
		t.Errorf("TASK_0 = %s, want COMPLETED", jobs[0].State)
	}
	if jobs[1].State != model.JobStateFailed || !strings.Contains(jobs[1].Reason, "dtype") {
		t.Errorf("TASK_1 = %s (%s)", jobs[1].State, jobs[1].Reason)
	}
	for _, j := range jobs[2:] {
		if j.State != model.JobStateFailed || !strings.HasPrefix(j.Reason, "run aborted") {
			t.Errorf("%s = %s (%s)", j.Name, j.State, j.Reason)
		}
	}
	if strings.Join(agg.seen, ",") != "TASK_0,TASK_1" {
		t.Errorf("aggregated after abort: %v", agg.seen)
	}
}

func TestPoll_LaunchFailure(t *testing.T) {
	jobs := runningJobs(t, 2)
	touch(t, jobs[0].StatusPath)
	failures := make(chan *model.LaunchError, 2)
	failures <- &model.LaunchError{Job: "TASK_1", ExitCode: 1, Err: errors.New("qsub: queue full")}

	p := New(fastConfig(), &fakeAggregator{}, nil, discardLogger())
	res, err := p.Poll(context.Background(), jobs, failures, time.Now())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Completed != 1 || res.Failed != 1 || res.Passes != 1 {
		t.Errorf("result = %+v", res)
	}
	if jobs[1].State != model.JobStateFailed || !strings.Contains(jobs[1].Reason, "queue full") {
		t.Errorf("TASK_1 = %s (%s)", jobs[1].State, jobs[1].Reason)
	}
}

func TestPoll_MarkerWinsOverLaunchFailure(t *testing.T) {
	jobs := runningJobs(t, 1)
	touch(t, jobs[0].StatusPath)
	failures := make(chan *model.LaunchError, 1)
	failures <- &model.LaunchError{Job: "TASK_0", ExitCode: 1, Err: errors.New("exit status 1")}

	p := New(fastConfig(), &fakeAggregator{}, nil, discardLogger())
	if _, err := p.Poll(context.Background(), jobs, failures, time.Now()); err != nil {
		t.Fatal(err)
	}
	if jobs[0].State != model.JobStateCompleted {
		t.Errorf("state = %s, want COMPLETED", jobs[0].State)
	}
}

func TestPoll_Cancelled(t *testing.T) {
	jobs := runningJobs(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(fastConfig(), &fakeAggregator{}, nil, discardLogger())
	res, err := p.Poll(ctx, jobs, nil, time.Now())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Failed != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestPoll_IgnoresJobsNotRunning(t *testing.T) {
	jobs := runningJobs(t, 2)
	failed := model.NewJob("TASK_9", model.Region{Start: []int{90}, Stop: []int{100}}, t.TempDir())
	failed.Transition(model.JobStateFailed, "launch failed")
	touch(t, jobs[0].StatusPath)
	touch(t, jobs[1].StatusPath)

	p := New(fastConfig(), &fakeAggregator{}, nil, discardLogger())
	res, err := p.Poll(context.Background(), append(jobs, failed), nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.Completed != 2 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestPoll_NoJobs(t *testing.T) {
	p := New(fastConfig(), &fakeAggregator{}, nil, discardLogger())
	res, err := p.Poll(context.Background(), nil, nil, time.Now())
	if err != nil || res.Passes != 0 {
		t.Errorf("Poll(nil) = %+v, %v", res, err)
	}
}
