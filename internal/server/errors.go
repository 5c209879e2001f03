package server

import (
	"encoding/json"
	"net/http"

	"github.com/fleetworks/klaxon/internal/alerts"
	"github.com/fleetworks/klaxon/internal/rules"
)

// APIError is the standard error response format.
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Error: code, Message: message})
}

// writeStoreError maps store and engine errors to HTTP responses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case alerts.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "alert not found")
	case alerts.IsInvalidTransition(err):
		writeError(w, http.StatusBadRequest, "invalid_transition", err.Error())
	case alerts.IsValidation(err):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// writeRuleError maps rule store errors to HTTP responses.
func writeRuleError(w http.ResponseWriter, err error) {
	switch {
	case rules.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "rule not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
