package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fleetworks/klaxon/internal/alerts"
	"github.com/fleetworks/klaxon/internal/config"
	"github.com/fleetworks/klaxon/internal/engine"
	"github.com/fleetworks/klaxon/internal/events"
	"github.com/fleetworks/klaxon/internal/jobs"
	"github.com/fleetworks/klaxon/internal/rules"
)

type seqIDs struct {
	n int
}

func (s *seqIDs) Next(_ context.Context, source alerts.SourceType) (string, error) {
	s.n++
	return fmt.Sprintf("TST-2026-%05d", s.n), nil
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	dir := t.TempDir()

	alertStore, err := alerts.NewStore(filepath.Join(dir, "alerts.db"), &seqIDs{}, 0)
	if err != nil {
		t.Fatalf("alerts.NewStore: %v", err)
	}
	t.Cleanup(func() { _ = alertStore.Close() })

	ruleStore, err := rules.NewStore(filepath.Join(dir, "rules.db"), time.Minute)
	if err != nil {
		t.Fatalf("rules.NewStore: %v", err)
	}
	t.Cleanup(func() { _ = ruleStore.Close() })

	jobStore, err := jobs.NewStore(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("jobs.NewStore: %v", err)
	}
	t.Cleanup(func() { _ = jobStore.Close() })

	bus := events.NewBus()
	eng := engine.New(alertStore, ruleStore, bus, nil)
	scanner := jobs.NewScanner(eng, jobStore, bus, nil)

	srv := New(config.Default(), nil, alertStore, ruleStore, jobStore, eng, scanner, bus)
	return srv, srv.routes()
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestCreateAndGetAlert(t *testing.T) {
	_, handler := newTestServer(t)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/v1/alerts",
		`{"source_type": "SAFETY", "metadata": {"driver_id": "DRV-1"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}
	alertID, _ := body["alert_id"].(string)
	if alertID == "" {
		t.Fatalf("no alert_id in response: %v", body)
	}
	if body["severity"] != "CRITICAL" {
		t.Errorf("severity: %v", body["severity"])
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/api/v1/alerts/"+alertID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	if body["status"] != "OPEN" {
		t.Errorf("status: %v", body["status"])
	}
}

func TestCreateAlertRejectsBadSource(t *testing.T) {
	_, handler := newTestServer(t)

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/alerts",
		`{"source_type": "BOGUS"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestCreateEscalatesAtThreshold(t *testing.T) {
	_, handler := newTestServer(t)

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/rules",
		`{"rule_id": "overspeed_2", "source_type": "OVERSPEEDING", "name": "Two strikes",
		  "is_active": true, "priority": 1,
		  "conditions": {"escalate_if_count": 2, "window_mins": 60}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule: status %d, body %s", rec.Code, rec.Body.String())
	}

	payload := `{"source_type": "OVERSPEEDING", "metadata": {"driver_id": "DRV-9"}}`
	rec, _ = doJSON(t, handler, http.MethodPost, "/api/v1/alerts", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first alert: status %d", rec.Code)
	}

	rec, body := doJSON(t, handler, http.MethodPost, "/api/v1/alerts", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("second alert: status %d", rec.Code)
	}
	alertID, _ := body["alert_id"].(string)

	rec, body = doJSON(t, handler, http.MethodGet, "/api/v1/alerts/"+alertID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	if body["status"] != "ESCALATED" {
		t.Errorf("second alert must be escalated, got %v", body["status"])
	}
}

func TestResolveAndInvalidTransition(t *testing.T) {
	_, handler := newTestServer(t)

	_, body := doJSON(t, handler, http.MethodPost, "/api/v1/alerts",
		`{"source_type": "COMPLIANCE"}`)
	alertID, _ := body["alert_id"].(string)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/"+alertID+"/resolve",
		`{"resolution_notes": "checked", "user_id": "ops-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status %d, body %s", rec.Code, rec.Body.String())
	}
	if body["resolved_by"] != "ops-1" {
		t.Errorf("resolved_by: %v", body["resolved_by"])
	}

	// Terminal alerts reject further transitions with 400.
	rec, _ = doJSON(t, handler, http.MethodPatch, "/api/v1/alerts/"+alertID+"/status",
		`{"status": "ESCALATED", "reason": "nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("transition from RESOLVED: status %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/v1/alerts/"+alertID+"/resolve",
		`{"user_id": "ops-2"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("double resolve: status %d", rec.Code)
	}
}

func TestResolveRequiresUser(t *testing.T) {
	_, handler := newTestServer(t)

	_, body := doJSON(t, handler, http.MethodPost, "/api/v1/alerts",
		`{"source_type": "COMPLIANCE"}`)
	alertID, _ := body["alert_id"].(string)

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/"+alertID+"/resolve",
		`{"resolution_notes": "anonymous"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestListAlertsPagination(t *testing.T) {
	_, handler := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/alerts",
			`{"source_type": "OVERSPEEDING", "metadata": {"driver_id": "DRV-1"}}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d: status %d", i, rec.Code)
		}
	}

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/alerts?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	if body["total"] != float64(3) {
		t.Errorf("total: %v", body["total"])
	}
	page, _ := body["alerts"].([]any)
	if len(page) != 2 {
		t.Errorf("page size: %d", len(page))
	}
}

func TestAlertHistoryEndpoint(t *testing.T) {
	_, handler := newTestServer(t)

	_, body := doJSON(t, handler, http.MethodPost, "/api/v1/alerts",
		`{"source_type": "SAFETY"}`)
	alertID, _ := body["alert_id"].(string)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/alerts/"+alertID+"/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history: status %d", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("count: %v", body["count"])
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/api/v1/alerts/NOPE-2026-00001/history", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing alert: status %d", rec.Code)
	}
}

func TestRuleCRUDAndConflict(t *testing.T) {
	_, handler := newTestServer(t)

	create := `{"rule_id": "doc_renewed", "source_type": "DOCUMENT_EXPIRY",
		"name": "Close renewed", "is_active": true,
		"conditions": {"auto_close_if": "document_valid"}}`
	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/rules", create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/v1/rules", create)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status %d", rec.Code)
	}

	rec, body := doJSON(t, handler, http.MethodPut, "/api/v1/rules/doc_renewed",
		`{"priority": 7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d", rec.Code)
	}
	if body["priority"] != float64(7) {
		t.Errorf("priority: %v", body["priority"])
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/api/v1/rules/active/DOCUMENT_EXPIRY", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("active: status %d", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("active count: %v", body["count"])
	}

	rec, _ = doJSON(t, handler, http.MethodDelete, "/api/v1/rules/doc_renewed", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status %d", rec.Code)
	}
	rec, _ = doJSON(t, handler, http.MethodGet, "/api/v1/rules/doc_renewed", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted: status %d", rec.Code)
	}
}

func TestManualScanEndpoint(t *testing.T) {
	_, handler := newTestServer(t)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/v1/jobs/scan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: status %d, body %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "completed" {
		t.Errorf("job status: %v", body["status"])
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/api/v1/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("jobs: status %d", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("jobs count: %v", body["count"])
	}
}

func TestDashboardSummary(t *testing.T) {
	_, handler := newTestServer(t)

	for _, payload := range []string{
		`{"source_type": "SAFETY"}`,
		`{"source_type": "COMPLIANCE"}`,
	} {
		if rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/alerts", payload); rec.Code != http.StatusCreated {
			t.Fatalf("create: status %d", rec.Code)
		}
	}

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/dashboard/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: status %d", rec.Code)
	}
	if body["total"] != float64(2) || body["active"] != float64(2) {
		t.Errorf("summary: %v", body)
	}
}

func TestHealthz(t *testing.T) {
	_, handler := newTestServer(t)

	rec, body := doJSON(t, handler, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz: %d %v", rec.Code, body)
	}
}
