package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Alerts
	mux.HandleFunc("POST /api/v1/alerts", s.handleCreateAlert)
	mux.HandleFunc("GET /api/v1/alerts", s.handleListAlerts)
	mux.HandleFunc("GET /api/v1/alerts/{id}", s.handleGetAlert)
	mux.HandleFunc("PATCH /api/v1/alerts/{id}/status", s.handleUpdateAlertStatus)
	mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", s.handleResolveAlert)
	mux.HandleFunc("GET /api/v1/alerts/{id}/history", s.handleAlertHistory)

	// Rules
	mux.HandleFunc("POST /api/v1/rules", s.handleCreateRule)
	mux.HandleFunc("GET /api/v1/rules", s.handleListRules)
	mux.HandleFunc("GET /api/v1/rules/active/{source}", s.handleActiveRules)
	mux.HandleFunc("POST /api/v1/rules/load-defaults", s.handleLoadDefaultRules)
	mux.HandleFunc("GET /api/v1/rules/{id}", s.handleGetRule)
	mux.HandleFunc("PUT /api/v1/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/v1/rules/{id}", s.handleDeleteRule)

	// Background jobs
	mux.HandleFunc("GET /api/v1/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/v1/jobs/scan", s.handleTriggerScan)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)

	// Dashboard
	mux.HandleFunc("GET /api/v1/dashboard/summary", s.handleDashboardSummary)
	mux.HandleFunc("GET /api/v1/dashboard/top-offenders", s.handleTopOffenders)
	mux.HandleFunc("GET /api/v1/dashboard/trend", s.handleTrend)

	// Event stream
	mux.HandleFunc("GET /api/v1/events", s.handleEventStream)

	return mux
}
