package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fleetworks/klaxon/internal/alerts"
	"github.com/fleetworks/klaxon/internal/events"
	"github.com/fleetworks/klaxon/internal/metrics"
)

type createAlertRequest struct {
	SourceType string          `json:"source_type"`
	Severity   string          `json:"severity,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	Metadata   alerts.Metadata `json:"metadata,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

// handleCreateAlert serves POST /api/v1/alerts.
//
// The escalation check runs after the insert; its failure never fails the
// request, since the alert is already durably created.
func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	params := alerts.CreateParams{
		SourceType: alerts.SourceType(req.SourceType),
		Severity:   alerts.Severity(req.Severity),
		Metadata:   req.Metadata,
		ExpiresAt:  req.ExpiresAt,
	}
	if req.Timestamp != nil {
		params.Timestamp = *req.Timestamp
	}

	alert, err := s.alertStore.Create(r.Context(), params)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.SourceType)).Inc()
	s.bus.Publish(events.Event{
		Type:    events.EventAlertCreated,
		AlertID: alert.AlertID,
		Payload: alert,
	})

	if _, err := s.engine.CheckAndEscalate(r.Context(), alert); err != nil {
		s.logger.Warn("escalation check failed",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
	}

	writeJSON(w, http.StatusCreated, alert)
}

// handleListAlerts serves GET /api/v1/alerts.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	query := alerts.ListQuery{
		Status:     alerts.Status(r.URL.Query().Get("status")),
		SourceType: alerts.SourceType(r.URL.Query().Get("source_type")),
		Severity:   alerts.Severity(r.URL.Query().Get("severity")),
		DriverID:   r.URL.Query().Get("driver_id"),
	}

	if raw := r.URL.Query().Get("start_date"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "start_date must be RFC3339")
			return
		}
		query.Start = &ts
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "end_date must be RFC3339")
			return
		}
		query.End = &ts
	}
	if raw := r.URL.Query().Get("skip"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "skip must be a non-negative integer")
			return
		}
		query.Skip = n
	}
	query.Limit = alerts.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		query.Limit = n
	}

	page, total, err := s.alertStore.List(r.Context(), query)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	limit := query.Limit
	if limit > alerts.MaxPageSize {
		limit = alerts.MaxPageSize
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": page,
		"total":  total,
		"skip":   query.Skip,
		"limit":  limit,
	})
}

// handleGetAlert serves GET /api/v1/alerts/{id}.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing alert id")
		return
	}

	alert, err := s.alertStore.GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleUpdateAlertStatus serves PATCH /api/v1/alerts/{id}/status.
func (s *Server) handleUpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing alert id")
		return
	}

	var req struct {
		Status      string `json:"status"`
		Reason      string `json:"reason"`
		TriggeredBy string `json:"triggered_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = alerts.TriggeredBySystem
	}

	alert, err := s.alertStore.UpdateStatus(r.Context(), id,
		alerts.Status(req.Status), req.Reason, req.TriggeredBy, "")
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleResolveAlert serves POST /api/v1/alerts/{id}/resolve.
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing alert id")
		return
	}

	var req struct {
		ResolutionNotes string `json:"resolution_notes"`
		UserID          string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	alert, err := s.alertStore.Resolve(r.Context(), id, req.ResolutionNotes, req.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	metrics.AlertsResolvedTotal.Inc()
	s.bus.Publish(events.Event{
		Type:    events.EventAlertResolved,
		AlertID: alert.AlertID,
		Payload: alert,
	})
	writeJSON(w, http.StatusOK, alert)
}

// handleAlertHistory serves GET /api/v1/alerts/{id}/history.
func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing alert id")
		return
	}

	alert, err := s.alertStore.GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alert_id":      alert.AlertID,
		"state_history": alert.StateHistory,
		"count":         len(alert.StateHistory),
	})
}
