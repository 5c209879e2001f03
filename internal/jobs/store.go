package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists background job execution records in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a jobs database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open jobs db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS background_jobs (
		job_id               TEXT PRIMARY KEY,
		job_type             TEXT NOT NULL,
		status               TEXT NOT NULL,
		started_at           TEXT NOT NULL,
		completed_at         TEXT,
		execution_time_ms    INTEGER NOT NULL DEFAULT 0,
		total_alerts_checked INTEGER NOT NULL DEFAULT 0,
		alerts_escalated     INTEGER NOT NULL DEFAULT 0,
		alerts_auto_closed   INTEGER NOT NULL DEFAULT 0,
		errors_json          TEXT NOT NULL DEFAULT '[]'
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create background_jobs table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_started ON background_jobs(started_at DESC)`)

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Start inserts a new job record in the running state and returns it.
func (s *Store) Start(ctx context.Context, jobType string) (*BackgroundJob, error) {
	now := time.Now().UTC()
	job := &BackgroundJob{
		JobID:     newJobID(now),
		JobType:   jobType,
		Status:    JobRunning,
		StartedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO background_jobs
		(job_id, job_type, status, started_at) VALUES (?, ?, ?, ?)`,
		job.JobID, job.JobType, string(job.Status), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert job record: %w", err)
	}
	return job, nil
}

// Finish marks a job completed or failed and records its results. The
// execution time is derived from the recorded start time.
func (s *Store) Finish(ctx context.Context, job *BackgroundJob, status JobStatus) error {
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	job.ExecutionTimeMS = now.Sub(job.StartedAt).Milliseconds()

	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("marshal job errors: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE background_jobs
		SET status = ?, completed_at = ?, execution_time_ms = ?,
		    total_alerts_checked = ?, alerts_escalated = ?, alerts_auto_closed = ?,
		    errors_json = ?
		WHERE job_id = ?`,
		string(status),
		now.Format(time.RFC3339Nano),
		job.ExecutionTimeMS,
		job.TotalAlertsChecked,
		job.AlertsEscalated,
		job.AlertsAutoClosed,
		string(errorsJSON),
		job.JobID,
	)
	if err != nil {
		return fmt.Errorf("finish job record: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Get returns one job record by id.
func (s *Store) Get(ctx context.Context, jobID string) (*BackgroundJob, error) {
	row := s.db.QueryRowContext(ctx, selectJob+` WHERE job_id = ?`, jobID)
	return scanJob(row)
}

// Recent returns the most recent job records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]BackgroundJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectJob+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]BackgroundJob, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

const selectJob = `SELECT job_id, job_type, status, started_at, completed_at,
	execution_time_ms, total_alerts_checked, alerts_escalated, alerts_auto_closed,
	errors_json FROM background_jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*BackgroundJob, error) {
	var (
		job         BackgroundJob
		startedAt   string
		completedAt sql.NullString
		errorsJSON  string
	)

	if err := sc.Scan(
		&job.JobID,
		&job.JobType,
		&job.Status,
		&startedAt,
		&completedAt,
		&job.ExecutionTimeMS,
		&job.TotalAlertsChecked,
		&job.AlertsEscalated,
		&job.AlertsAutoClosed,
		&errorsJSON,
	); err != nil {
		return nil, err
	}

	job.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if completedAt.Valid && completedAt.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			job.CompletedAt = &ts
		}
	}
	_ = json.Unmarshal([]byte(errorsJSON), &job.Errors)
	return &job, nil
}

// IsNotFound reports whether err is sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
