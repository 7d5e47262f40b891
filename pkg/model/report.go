package model

import "time"

// JobFailure describes one job that did not complete.
type JobFailure struct {
	Job    string   `json:"job"`
	Region string   `json:"region"`
	State  JobState `json:"state"`
	Reason string   `json:"reason"`
}

// CopyStats summarizes per-job aggregation latency.
type CopyStats struct {
	Count int           `json:"count"`
	P50   time.Duration `json:"p50_ns"`
	P95   time.Duration `json:"p95_ns"`
	Max   time.Duration `json:"max_ns"`
}

// Report is the outcome of one coordinator run.
type Report struct {
	RunID     string        `json:"run_id"`
	Success   bool          `json:"success"`
	JobCount  int           `json:"job_count"`
	Completed []string      `json:"completed"`
	Failures  []JobFailure  `json:"failures,omitempty"`
	Passes    int           `json:"passes"`
	Bytes     int64         `json:"bytes"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Copy      CopyStats     `json:"copy"`
	Error     string        `json:"error,omitempty"`
}

// FailedJobs returns the names of all failed or timed-out jobs.
func (r *Report) FailedJobs() []string {
	names := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		names[i] = f.Job
	}
	return names
}
