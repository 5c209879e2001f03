// Package server wires together the alert subsystems and exposes the HTTP
// API. main() builds a Server, calls ListenAndServe, done.
package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fleetworks/klaxon/internal/alerts"
	"github.com/fleetworks/klaxon/internal/config"
	"github.com/fleetworks/klaxon/internal/engine"
	"github.com/fleetworks/klaxon/internal/events"
	"github.com/fleetworks/klaxon/internal/jobs"
	"github.com/fleetworks/klaxon/internal/rules"
)

// Version info injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Server is the assembled alert service.
type Server struct {
	cfg    config.Config
	logger *zap.Logger

	alertStore *alerts.Store
	ruleStore  *rules.Store
	jobStore   *jobs.Store
	scanner    *jobs.Scanner
	engine     *engine.Engine
	bus        *events.Bus

	httpServer *http.Server
}

// New assembles a server from its subsystems.
func New(cfg config.Config, logger *zap.Logger,
	alertStore *alerts.Store, ruleStore *rules.Store, jobStore *jobs.Store,
	eng *engine.Engine, scanner *jobs.Scanner, bus *events.Bus) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		alertStore: alertStore,
		ruleStore:  ruleStore,
		jobStore:   jobStore,
		engine:     eng,
		scanner:    scanner,
		bus:        bus,
	}
}

// ListenAndServe starts the HTTP server and blocks until it exits.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", zap.String("addr", s.cfg.ListenAddr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	})
}
