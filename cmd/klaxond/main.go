// Klaxond — fleet alert lifecycle service: ingest, escalation, auto-close.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fleetworks/klaxon/internal/alerts"
	"github.com/fleetworks/klaxon/internal/config"
	"github.com/fleetworks/klaxon/internal/engine"
	"github.com/fleetworks/klaxon/internal/events"
	"github.com/fleetworks/klaxon/internal/idgen"
	"github.com/fleetworks/klaxon/internal/jobs"
	"github.com/fleetworks/klaxon/internal/rules"
	"github.com/fleetworks/klaxon/internal/server"
	"github.com/fleetworks/klaxon/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (JSON)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger not built yet; stderr is all we have.
		panic(err)
	}

	logger := buildLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	server.Version = version
	server.Commit = commit
	server.Date = date

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = shutdownTracing(flushCtx)
	}()

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		logger.Fatal("cannot create data dir", zap.String("dir", cfg.DataDir), zap.Error(err))
	}

	ids, err := idgen.New(filepath.Join(cfg.DataDir, "counters.db"))
	if err != nil {
		logger.Fatal("cannot open counters store", zap.Error(err))
	}
	defer ids.Close()

	alertStore, err := alerts.NewStore(filepath.Join(cfg.DataDir, "alerts.db"), ids, cfg.Expiration())
	if err != nil {
		logger.Fatal("cannot open alert store", zap.Error(err))
	}
	defer alertStore.Close()

	ruleStore, err := rules.NewStore(filepath.Join(cfg.DataDir, "rules.db"), time.Duration(cfg.RuleCacheTTL))
	if err != nil {
		logger.Fatal("cannot open rule store", zap.Error(err))
	}
	defer ruleStore.Close()

	jobStore, err := jobs.NewStore(filepath.Join(cfg.DataDir, "jobs.db"))
	if err != nil {
		logger.Fatal("cannot open job store", zap.Error(err))
	}
	defer jobStore.Close()

	if cfg.DefaultRulesPath != "" {
		inserted, err := ruleStore.LoadDefaults(ctx, cfg.DefaultRulesPath)
		if err != nil {
			logger.Warn("default rules not loaded",
				zap.String("path", cfg.DefaultRulesPath), zap.Error(err))
		} else {
			logger.Info("default rules loaded",
				zap.String("path", cfg.DefaultRulesPath), zap.Int("inserted", inserted))
		}
	}

	bus := events.NewBus()
	eng := engine.New(alertStore, ruleStore, bus, logger.Named("engine"))
	scanner := jobs.NewScanner(eng, jobStore, bus, logger.Named("scanner"))

	scheduler := jobs.NewScheduler(scanner, time.Duration(cfg.ScanInterval), logger.Named("scheduler"))
	if err := scheduler.Start(); err != nil {
		logger.Fatal("cannot start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	srv := server.New(cfg, logger.Named("http"), alertStore, ruleStore, jobStore, eng, scanner, bus)

	logger.Info("starting klaxond",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version),
		zap.String("data_dir", cfg.DataDir),
		zap.Duration("scan_interval", time.Duration(cfg.ScanInterval)),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func buildLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		lvl = parsed
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
