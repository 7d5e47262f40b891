package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/me/clusterize/pkg/model"
)

type healthResponse struct {
	Status      string `json:"status"` // healthy, degraded
	Version     string `json:"version"`
	GoVersion   string `json:"go_version"`
	Uptime      string `json:"uptime"`
	ActiveRuns  int    `json:"active_runs"`
	LedgerError string `json:"ledger_error,omitempty"`
}

// Version is reported by the health endpoint.
var Version = "0.1.0"

// handleHealth always answers 200 so a probe does not kill a coordinator that
// merely lost its ledger; a failing ledger shows up as "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
	_, active, err := s.ledger.ListRuns(r.Context(), model.ListOptions{Limit: 1, State: string(model.RunStateRunning)})
	if err != nil {
		resp.Status = "degraded"
		resp.LedgerError = err.Error()
	}
	resp.ActiveRuns = active
	respondOK(w, RequestIDFromContext(r.Context()), resp)
}
