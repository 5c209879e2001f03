// Package jobs runs and records the periodic auto-close scanner.
package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a background job record.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobTypeAutoCloseScan is the only job type currently scheduled.
const JobTypeAutoCloseScan = "auto_close_scan"

// BackgroundJob is one recorded execution of a background job.
type BackgroundJob struct {
	JobID              string     `json:"job_id"`
	JobType            string     `json:"job_type"`
	Status             JobStatus  `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	ExecutionTimeMS    int64      `json:"execution_time_ms"`
	TotalAlertsChecked int        `json:"total_alerts_checked"`
	AlertsEscalated    int        `json:"alerts_escalated"`
	AlertsAutoClosed   int        `json:"alerts_auto_closed"`
	Errors             []string   `json:"errors,omitempty"`
}

// newJobID returns an id like "JOB-20260824-153000-a1b2c3", unique per run.
func newJobID(t time.Time) string {
	return fmt.Sprintf("JOB-%s-%s", t.UTC().Format("20060102-150405"), uuid.NewString()[:6])
}
