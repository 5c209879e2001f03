package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fleetworks/klaxon/internal/jobs"
)

// handleListJobs serves GET /api/v1/jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	recent, err := s.jobStore.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  recent,
		"count": len(recent),
	})
}

// handleGetJob serves GET /api/v1/jobs/{id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing job id")
		return
	}

	job, err := s.jobStore.Get(r.Context(), id)
	if err != nil {
		if jobs.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleTriggerScan serves POST /api/v1/jobs/scan. The pass runs
// synchronously and returns the finished job record.
func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	job, err := s.scanner.RunOnce(r.Context())
	if err != nil && job == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDashboardSummary serves GET /api/v1/dashboard/summary.
func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.alertStore.GetSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleTopOffenders serves GET /api/v1/dashboard/top-offenders.
func (s *Server) handleTopOffenders(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "days must be a positive integer")
			return
		}
		days = n
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	offenders, err := s.alertStore.TopOffenders(r.Context(), since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":     since,
		"offenders": offenders,
	})
}

// handleTrend serves GET /api/v1/dashboard/trend.
func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "days must be a positive integer")
			return
		}
		days = n
	}

	trend, err := s.alertStore.Trend(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":  days,
		"trend": trend,
	})
}
