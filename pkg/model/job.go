package model

import (
	"fmt"
	"path/filepath"
	"time"
)

// File naming for the per-job signaling files in the scratch directory.
const (
	StatusFileNameFormat = "%s status %s.txt"
	OutputFileNameFormat = "%s output %s.arr"

	// PartialOutputSuffix marks an output file still being copied into the
	// scratch directory.
	PartialOutputSuffix = ".partial"
)

// Dataset keys inside the array containers.
const (
	NodeResultDataset    = "node_result"
	ClusterResultDataset = "cluster_result"
)

// StatusFilePath returns the marker path for a task/region pair.
func StatusFilePath(scratchDir, taskName string, r Region) string {
	return filepath.Join(scratchDir, fmt.Sprintf(StatusFileNameFormat, taskName, r.Key()))
}

// OutputFilePath returns the result path for a task/region pair.
func OutputFilePath(scratchDir, taskName string, r Region) string {
	return filepath.Join(scratchDir, fmt.Sprintf(OutputFileNameFormat, taskName, r.Key()))
}

// TaskName returns the canonical job name for the i-th region.
func TaskName(i int) string {
	return fmt.Sprintf("TASK_%d", i)
}

// Job is one scheduled unit of work: one region, one external process.
type Job struct {
	Name       string     `json:"name"`
	Region     Region     `json:"region"`
	Command    string     `json:"command"`
	StatusPath string     `json:"status_path"`
	OutputPath string     `json:"output_path"`
	State      JobState   `json:"state"`
	Reason     string     `json:"reason,omitempty"`
	Bytes      int64      `json:"bytes,omitempty"`
	LaunchedAt *time.Time `json:"launched_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewJob builds a PENDING job with its derived file paths.
func NewJob(name string, r Region, scratchDir string) *Job {
	return &Job{
		Name:       name,
		Region:     r,
		StatusPath: StatusFilePath(scratchDir, name, r),
		OutputPath: OutputFilePath(scratchDir, name, r),
		State:      JobStatePending,
	}
}

// Transition moves the job to next, recording reason and the finish time for
// terminal states.
func (j *Job) Transition(next JobState, reason string) error {
	if !j.State.CanTransitionTo(next) {
		return fmt.Errorf("invalid job state transition: %s → %s (job %s)", j.State, next, j.Name)
	}
	now := time.Now().UTC()
	j.State = next
	j.Reason = reason
	switch {
	case next == JobStateRunning:
		j.LaunchedAt = &now
	case next.IsTerminal():
		j.FinishedAt = &now
	}
	return nil
}
