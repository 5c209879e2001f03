package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fleetworks/klaxon/internal/alerts"
	"github.com/fleetworks/klaxon/internal/events"
	"github.com/fleetworks/klaxon/internal/rules"
)

// handleCreateRule serves POST /api/v1/rules.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if rule.Priority == 0 {
		rule.Priority = 1
	}

	created, err := s.ruleStore.Create(r.Context(), rule)
	if err != nil {
		if errors.Is(err, rules.ErrRuleExists) {
			writeError(w, http.StatusConflict, "rule_exists", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
		return
	}

	s.publishRuleChanged(created.RuleID)
	writeJSON(w, http.StatusCreated, created)
}

// handleListRules serves GET /api/v1/rules.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	filter := rules.ListFilter{
		SourceType: alerts.SourceType(r.URL.Query().Get("source_type")),
		ActiveOnly: r.URL.Query().Get("active_only") == "true",
	}

	list, err := s.ruleStore.List(r.Context(), filter)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// handleGetRule serves GET /api/v1/rules/{id}.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing rule id")
		return
	}

	rule, err := s.ruleStore.Get(r.Context(), id)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleUpdateRule serves PUT /api/v1/rules/{id}.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing rule id")
		return
	}

	var patch rules.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	updated, err := s.ruleStore.Update(r.Context(), id, patch)
	if err != nil {
		if rules.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "rule not found")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
		return
	}

	s.publishRuleChanged(id)
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteRule serves DELETE /api/v1/rules/{id}.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing rule id")
		return
	}

	if err := s.ruleStore.Delete(r.Context(), id); err != nil {
		writeRuleError(w, err)
		return
	}

	s.publishRuleChanged(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleActiveRules serves GET /api/v1/rules/active/{source}.
func (s *Server) handleActiveRules(w http.ResponseWriter, r *http.Request) {
	source := alerts.SourceType(strings.TrimSpace(r.PathValue("source")))
	if !alerts.ValidSourceType(source) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown source type")
		return
	}

	active, err := s.ruleStore.ActiveForSource(r.Context(), source)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source_type": source,
		"rules":       active,
		"count":       len(active),
	})
}

// handleLoadDefaultRules serves POST /api/v1/rules/load-defaults.
func (s *Server) handleLoadDefaultRules(w http.ResponseWriter, r *http.Request) {
	path := s.cfg.DefaultRulesPath
	if path == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "no default rules file configured")
		return
	}

	inserted, err := s.ruleStore.LoadDefaults(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	if inserted > 0 {
		s.publishRuleChanged("")
	}
	writeJSON(w, http.StatusOK, map[string]any{"inserted": inserted})
}

func (s *Server) publishRuleChanged(ruleID string) {
	s.bus.Publish(events.Event{
		Type:    events.EventRuleChanged,
		Payload: map[string]string{"rule_id": ruleID},
	})
}
