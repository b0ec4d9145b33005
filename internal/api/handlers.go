package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/paratest/internal/history"
	"github.com/mattjoyce/paratest/internal/report"
)

const defaultRunsLimit = 20

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Snapshot()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		RunID:         snap.RunID,
		State:         snap.State,
	})
}

// handleStatus handles GET /status: the live progress snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.status.Snapshot())
}

// handleListRuns handles GET /runs?limit=N.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	resp := RunsResponse{Runs: make([]*report.Report, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, report.New(run, nil))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetRun handles GET /runs/{runID}: the full report of one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	run, err := s.history.GetRun(r.Context(), chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, history.ErrRunNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, history.ErrAmbiguousRun):
		s.writeError(w, http.StatusConflict, "run id prefix is ambiguous")
		return
	case err != nil:
		s.logger.Error("failed to load run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	tests, err := s.history.TestsForRun(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("failed to load test results", "run_id", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load test results")
		return
	}
	respondJSON(w, http.StatusOK, report.New(run, tests))
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
