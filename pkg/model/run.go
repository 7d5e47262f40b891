package model

import "time"

// Run is the ledger record of one coordinator invocation.
type Run struct {
	ID         string     `json:"id"`
	Input      string     `json:"input"`
	Output     string     `json:"output"`
	JobCount   int        `json:"job_count"`
	State      RunState   `json:"state"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
