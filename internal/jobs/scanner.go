package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fleetworks/klaxon/internal/engine"
	"github.com/fleetworks/klaxon/internal/events"
	"github.com/fleetworks/klaxon/internal/metrics"
	"github.com/fleetworks/klaxon/internal/telemetry"
)

// Scanner runs auto-close passes and brackets each one with a job record.
type Scanner struct {
	engine *engine.Engine
	store  *Store
	bus    *events.Bus
	log    *zap.Logger
}

// NewScanner creates a scanner. A nil logger or bus is replaced with a no-op.
func NewScanner(eng *engine.Engine, store *Store, bus *events.Bus, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Scanner{engine: eng, store: store, bus: bus, log: log}
}

// RunOnce executes one full auto-close pass. The job record is written before
// evaluation starts and finalised afterwards; a failure to write either record
// aborts the pass, since an unrecorded sweep cannot be audited. Per-alert
// evaluation failures do not fail the pass; they are carried in the record's
// error list. Cancellation mid-pass marks the job failed.
func (s *Scanner) RunOnce(ctx context.Context) (*BackgroundJob, error) {
	// Job-record writes are detached from the caller's context: a cancelled
	// pass must still be able to record status=failed instead of leaving the
	// row stuck in running.
	recordCtx := context.WithoutCancel(ctx)

	job, err := s.store.Start(recordCtx, JobTypeAutoCloseScan)
	if err != nil {
		metrics.ScannerRunsTotal.WithLabelValues(string(JobFailed)).Inc()
		return nil, fmt.Errorf("record job start: %w", err)
	}

	ctx, span := telemetry.StartScanSpan(ctx, job.JobID)
	s.log.Info("auto-close scan started", zap.String("job_id", job.JobID))

	stats, evalErr := s.engine.EvaluateAllPending(ctx)
	job.TotalAlertsChecked = stats.TotalChecked
	job.AlertsAutoClosed = stats.AutoClosed
	job.Errors = stats.Errors

	status := JobCompleted
	if evalErr != nil {
		status = JobFailed
		job.Errors = append(job.Errors, evalErr.Error())
	}

	if err := s.store.Finish(recordCtx, job, status); err != nil {
		telemetry.EndScanSpan(span, stats.TotalChecked, stats.AutoClosed, len(job.Errors))
		metrics.ScannerRunsTotal.WithLabelValues(string(JobFailed)).Inc()
		return nil, fmt.Errorf("record job result: %w", err)
	}

	telemetry.EndScanSpan(span, stats.TotalChecked, stats.AutoClosed, len(job.Errors))
	metrics.ScannerRunsTotal.WithLabelValues(string(status)).Inc()
	metrics.ScannerDurationSeconds.Observe(float64(job.ExecutionTimeMS) / 1000)

	s.bus.Publish(events.Event{
		Type:    events.EventScanCompleted,
		Payload: job,
	})
	s.log.Info("auto-close scan finished",
		zap.String("job_id", job.JobID),
		zap.String("status", string(status)),
		zap.Int("checked", job.TotalAlertsChecked),
		zap.Int("auto_closed", job.AlertsAutoClosed),
		zap.Int("errors", len(job.Errors)),
		zap.Int64("execution_time_ms", job.ExecutionTimeMS),
	)

	if evalErr != nil {
		return job, evalErr
	}
	return job, nil
}
