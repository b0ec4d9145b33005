package api

import (
	"github.com/mattjoyce/paratest/internal/orchestrator"
	"github.com/mattjoyce/paratest/internal/report"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string                `json:"status"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	RunID         string                `json:"run_id,omitempty"`
	State         orchestrator.RunState `json:"state"`
}

// RunsResponse is returned by GET /runs.
type RunsResponse struct {
	Runs []*report.Report `json:"runs"`
}
