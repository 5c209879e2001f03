package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetworks/klaxon/internal/alerts"
	"github.com/fleetworks/klaxon/internal/engine"
	"github.com/fleetworks/klaxon/internal/events"
	"github.com/fleetworks/klaxon/internal/rules"
)

type seqIDs struct {
	n int
}

func (s *seqIDs) Next(_ context.Context, source alerts.SourceType) (string, error) {
	s.n++
	return fmt.Sprintf("TST-2026-%05d", s.n), nil
}

func newTestScanner(t *testing.T) (*Scanner, *alerts.Store, *Store) {
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

	jobStore, err := NewStore(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = jobStore.Close() })

	bus := events.NewBus()
	eng := engine.New(alertStore, ruleStore, bus, nil)
	return NewScanner(eng, jobStore, bus, nil), alertStore, jobStore
}

func TestRunOnceRecordsJob(t *testing.T) {
	scanner, alertStore, jobStore := newTestScanner(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := alertStore.Create(ctx, alerts.CreateParams{
		SourceType: alerts.SourceCompliance,
		ExpiresAt:  &past,
	}); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if _, err := alertStore.Create(ctx, alerts.CreateParams{
		SourceType: alerts.SourceCompliance,
	}); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	job, err := scanner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if job.Status != JobCompleted {
		t.Errorf("status: %s", job.Status)
	}
	if job.TotalAlertsChecked != 2 || job.AlertsAutoClosed != 1 {
		t.Errorf("counts: checked=%d closed=%d", job.TotalAlertsChecked, job.AlertsAutoClosed)
	}
	if job.AlertsEscalated != 0 {
		t.Errorf("alerts_escalated: %d", job.AlertsEscalated)
	}
	if len(job.Errors) != 0 {
		t.Errorf("errors: %v", job.Errors)
	}

	// The finished record is persisted.
	stored, err := jobStore.Get(ctx, job.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != JobCompleted || stored.CompletedAt == nil {
		t.Errorf("stored record: %+v", stored)
	}
}

func TestRunOnceEmptyBacklog(t *testing.T) {
	scanner, _, _ := newTestScanner(t)

	job, err := scanner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if job.Status != JobCompleted || job.TotalAlertsChecked != 0 {
		t.Errorf("empty pass: %+v", job)
	}
}

func TestRunOnceCancelledContextRecordsFailed(t *testing.T) {
	scanner, alertStore, jobStore := newTestScanner(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := alertStore.Create(ctx, alerts.CreateParams{
		SourceType: alerts.SourceCompliance,
		ExpiresAt:  &past,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	job, err := scanner.RunOnce(cancelled)
	if err == nil {
		t.Fatal("expected error from cancelled pass")
	}
	if job == nil {
		t.Fatal("job record must survive cancellation")
	}
	if job.Status != JobFailed {
		t.Errorf("status: %s", job.Status)
	}
	if len(job.Errors) == 0 {
		t.Error("cancellation reason not recorded")
	}

	// The failed record must be persisted, not left stuck in running.
	stored, err := jobStore.Get(ctx, job.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != JobFailed {
		t.Errorf("stored status: %s", stored.Status)
	}
	if stored.CompletedAt == nil {
		t.Error("completed_at not set on failed record")
	}
}
