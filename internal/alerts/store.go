package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// DefaultExpiration is how long a new alert stays eligible before
	// time-based auto-close.
	DefaultExpiration = 7 * 24 * time.Hour

	// DefaultPageSize and MaxPageSize bound alert listings.
	DefaultPageSize = 50
	MaxPageSize     = 100

	// timeLayout is fixed-width UTC so that string comparison in SQL
	// orders chronologically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// IDSource produces the next alert identifier for a source type.
type IDSource interface {
	Next(ctx context.Context, source SourceType) (string, error)
}

// CreateParams carries the caller-supplied fields for a new alert.
type CreateParams struct {
	SourceType SourceType
	Severity   Severity // optional; default derived from source type
	Timestamp  time.Time
	Metadata   Metadata
	ExpiresAt  *time.Time // optional; default now + DefaultExpiration
}

// ListQuery controls filtering and pagination for alert listings.
type ListQuery struct {
	Status     Status
	SourceType SourceType
	Severity   Severity
	DriverID   string
	Start      *time.Time
	End        *time.Time
	Skip       int
	Limit      int
}

// Store persists alerts and their state history in SQLite.
type Store struct {
	db         *sql.DB
	ids        IDSource
	expiration time.Duration
}

// NewStore opens (or creates) an alerts database.
func NewStore(dbPath string, ids IDSource, expiration time.Duration) (*Store, error) {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open alerts db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS alerts (
		alert_id           TEXT PRIMARY KEY,
		source_type        TEXT NOT NULL,
		severity           TEXT NOT NULL,
		status             TEXT NOT NULL,
		timestamp          TEXT NOT NULL,
		metadata_json      TEXT NOT NULL DEFAULT '{}',
		state_history_json TEXT NOT NULL DEFAULT '[]',
		escalated_at       TEXT,
		closed_at          TEXT,
		resolved_at        TEXT,
		auto_close_reason  TEXT,
		expires_at         TEXT,
		resolved_by        TEXT,
		resolution_notes   TEXT,
		created_at         TEXT NOT NULL,
		updated_at         TEXT
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create alerts table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp DESC)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_driver_window
		ON alerts(json_extract(metadata_json, '$.driver_id'), source_type, status, timestamp)`)

	return &Store{db: db, ids: ids, expiration: expiration}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create validates and persists a new alert: generated id, OPEN status,
// default severity, expiry window, and the synthetic "Alert created" history
// record. Returns the alert as re-read from the store.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Alert, error) {
	if !ValidSourceType(p.SourceType) {
		return nil, fmt.Errorf("%w: unknown source_type %q", ErrValidation, p.SourceType)
	}
	if p.Severity != "" && !ValidSeverity(p.Severity) {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrValidation, p.Severity)
	}

	severity := p.Severity
	if severity == "" {
		severity = DefaultSeverity(p.SourceType)
	}

	now := time.Now().UTC()
	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}
	expiresAt := now.Add(s.expiration)
	if p.ExpiresAt != nil {
		expiresAt = p.ExpiresAt.UTC()
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata not serializable: %v", ErrValidation, err)
	}

	initial := StateTransition{
		FromStatus:  StatusOpen,
		ToStatus:    StatusOpen,
		Timestamp:   now,
		Reason:      "Alert created",
		TriggeredBy: TriggeredBySystem,
	}
	historyJSON, err := json.Marshal([]StateTransition{initial})
	if err != nil {
		return nil, fmt.Errorf("marshal state history: %w", err)
	}

	alertID, err := s.ids.Next(ctx, p.SourceType)
	if err != nil {
		return nil, fmt.Errorf("generate alert id: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO alerts
		(alert_id, source_type, severity, status, timestamp, metadata_json, state_history_json, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alertID,
		string(p.SourceType),
		string(severity),
		string(StatusOpen),
		formatTime(ts),
		string(metadataJSON),
		string(historyJSON),
		formatTime(expiresAt),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}

	return s.GetByID(ctx, alertID)
}

// GetByID returns one alert by its alert_id.
func (s *Store) GetByID(ctx context.Context, alertID string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM alerts WHERE alert_id = ?`, alertID)
	return scanAlert(row)
}

// List returns a page of alerts matching the query, newest first, together
// with the total match count taken from the same snapshot.
func (s *Store) List(ctx context.Context, q ListQuery) ([]Alert, int, error) {
	where, args := buildFilter(q)

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	skip := q.Skip
	if skip < 0 {
		skip = 0
	}

	stmt := selectColumns + `, COUNT(*) OVER () FROM alerts` + where +
		` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, stmt, append(args, limit, skip)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]Alert, 0, limit)
	total := 0
	for rows.Next() {
		alert, n, err := scanAlertWithTotal(rows)
		if err != nil {
			return nil, 0, err
		}
		total = n
		out = append(out, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// A page past the end returns no rows, so the windowed count is lost.
	if len(out) == 0 {
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`+where, args...)
		if err := row.Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count alerts: %w", err)
		}
	}

	return out, total, nil
}

// CountSimilar counts alerts for the same driver and source type that are
// still OPEN or ESCALATED with timestamp at or after windowStart, excluding
// excludeID. Used by the count-in-window escalation rules.
func (s *Store) CountSimilar(ctx context.Context, driverID string, source SourceType, windowStart time.Time, excludeID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts
		WHERE json_extract(metadata_json, '$.driver_id') = ?
		  AND source_type = ?
		  AND status IN (?, ?)
		  AND timestamp >= ?
		  AND alert_id != ?`,
		driverID,
		string(source),
		string(StatusOpen),
		string(StatusEscalated),
		formatTime(windowStart),
		excludeID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count similar alerts: %w", err)
	}
	return count, nil
}

// ListPending returns every non-terminal alert (OPEN or ESCALATED). The
// result is a point-in-time snapshot; the scanner converges across passes.
func (s *Store) ListPending(ctx context.Context) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM alerts
		WHERE status IN (?, ?) ORDER BY timestamp ASC`,
		string(StatusOpen), string(StatusEscalated))
	if err != nil {
		return nil, fmt.Errorf("list pending alerts: %w", err)
	}
	defer rows.Close()

	out := make([]Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *alert)
	}
	return out, rows.Err()
}

// UpdateStatus applies one guarded state transition: status, derived
// timestamps, severity promotion, and the history append happen in a single
// UPDATE whose filter includes the expected prior status. A concurrent writer
// that changes the status first causes a re-read and re-validation, so at
// most one transition succeeds per step.
func (s *Store) UpdateStatus(ctx context.Context, alertID string, newStatus Status, reason, triggeredBy, ruleID string) (*Alert, error) {
	return s.transition(ctx, alertID, newStatus, reason, triggeredBy, ruleID, "", "")
}

// Resolve transitions an alert to RESOLVED, recording who resolved it and the
// resolution notes in the same atomic update. A resolved alert always carries
// notes, so empty notes are rejected.
func (s *Store) Resolve(ctx context.Context, alertID, notes, userID string) (*Alert, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, fmt.Errorf("%w: resolution notes are required", ErrValidation)
	}
	reason := fmt.Sprintf("Alert resolved by user %s", userID)
	return s.transition(ctx, alertID, StatusResolved, reason, userID, "", userID, notes)
}

func (s *Store) transition(ctx context.Context, alertID string, newStatus Status, reason, triggeredBy, ruleID, resolvedBy, notes string) (*Alert, error) {
	if !ValidStatus(newStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, newStatus)
	}

	for attempt := 0; attempt < 3; attempt++ {
		current, err := s.GetByID(ctx, alertID)
		if err != nil {
			return nil, err
		}
		if err := ValidateTransition(alertID, current.Status, newStatus); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		record := StateTransition{
			FromStatus:    current.Status,
			ToStatus:      newStatus,
			Timestamp:     now,
			Reason:        reason,
			TriggeredBy:   triggeredBy,
			RuleTriggered: ruleID,
		}
		recordJSON, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("marshal transition: %w", err)
		}

		set := []string{
			"status = ?",
			"updated_at = ?",
			"state_history_json = json_insert(state_history_json, '$[#]', json(?))",
		}
		args := []any{string(newStatus), formatTime(now), string(recordJSON)}

		switch newStatus {
		case StatusEscalated:
			set = append(set, "escalated_at = ?", "severity = ?")
			args = append(args, formatTime(now), string(SeverityCritical))
		case StatusAutoClosed:
			set = append(set, "closed_at = ?", "auto_close_reason = ?")
			args = append(args, formatTime(now), reason)
		case StatusResolved:
			set = append(set, "resolved_at = ?")
			args = append(args, formatTime(now))
			if resolvedBy != "" {
				set = append(set, "resolved_by = ?", "resolution_notes = ?")
				args = append(args, resolvedBy, notes)
			}
		}

		args = append(args, alertID, string(current.Status))
		res, err := s.db.ExecContext(ctx,
			`UPDATE alerts SET `+strings.Join(set, ", ")+` WHERE alert_id = ? AND status = ?`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("update alert status: %w", err)
		}
		rows, _ := res.RowsAffected()
		if rows > 0 {
			return s.GetByID(ctx, alertID)
		}
		// Lost the race: another writer moved the alert first. Re-read and
		// re-validate; usually the transition is now invalid.
	}

	current, err := s.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(alertID, current.Status, newStatus); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("alert %s: concurrent update contention, retry", alertID)
}

// SetMetadataField writes one metadata field in place. This is the "legal
// store write" used by upstream document services (e.g. flipping
// document_valid after a renewal).
func (s *Store) SetMetadataField(ctx context.Context, alertID, key string, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal metadata value: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET metadata_json = json_set(metadata_json, '$.' || ?, json(?)) WHERE alert_id = ?`,
		key, string(valueJSON), alertID)
	if err != nil {
		return fmt.Errorf("set metadata field: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const selectColumns = `SELECT alert_id, source_type, severity, status, timestamp,
	metadata_json, state_history_json, escalated_at, closed_at, resolved_at,
	auto_close_reason, expires_at, resolved_by, resolution_notes, created_at, updated_at`

func buildFilter(q ListQuery) (string, []any) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)

	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.SourceType != "" {
		clauses = append(clauses, "source_type = ?")
		args = append(args, string(q.SourceType))
	}
	if q.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(q.Severity))
	}
	if q.DriverID != "" {
		clauses = append(clauses, "json_extract(metadata_json, '$.driver_id') = ?")
		args = append(args, q.DriverID)
	}
	if q.Start != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, formatTime(*q.Start))
	}
	if q.End != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, formatTime(*q.End))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(sc scanner) (*Alert, error) {
	alert, _, err := scanAlertFields(sc, false)
	return alert, err
}

func scanAlertWithTotal(sc scanner) (*Alert, int, error) {
	return scanAlertFields(sc, true)
}

func scanAlertFields(sc scanner, withTotal bool) (*Alert, int, error) {
	var (
		alert                                  Alert
		timestamp, createdAt                   string
		metadataJSON, historyJSON              string
		escalatedAt, closedAt, resolvedAt      sql.NullString
		autoCloseReason, expiresAt             sql.NullString
		resolvedBy, resolutionNotes, updatedAt sql.NullString
		total                                  int
	)

	dest := []any{
		&alert.AlertID,
		&alert.SourceType,
		&alert.Severity,
		&alert.Status,
		&timestamp,
		&metadataJSON,
		&historyJSON,
		&escalatedAt,
		&closedAt,
		&resolvedAt,
		&autoCloseReason,
		&expiresAt,
		&resolvedBy,
		&resolutionNotes,
		&createdAt,
		&updatedAt,
	}
	if withTotal {
		dest = append(dest, &total)
	}

	if err := sc.Scan(dest...); err != nil {
		return nil, 0, err
	}

	alert.Timestamp, _ = parseTime(timestamp)
	alert.CreatedAt, _ = parseTime(createdAt)
	_ = json.Unmarshal([]byte(metadataJSON), &alert.Metadata)
	_ = json.Unmarshal([]byte(historyJSON), &alert.StateHistory)
	alert.EscalatedAt = timePtr(escalatedAt)
	alert.ClosedAt = timePtr(closedAt)
	alert.ResolvedAt = timePtr(resolvedAt)
	alert.ExpiresAt = timePtr(expiresAt)
	alert.UpdatedAt = timePtr(updatedAt)
	alert.AutoCloseReason = autoCloseReason.String
	alert.ResolvedBy = resolvedBy.String
	alert.ResolutionNotes = resolutionNotes.String

	return &alert, total, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	ts, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &ts
}

// IsNotFound reports whether err is sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// ErrValidation marks malformed input (unknown source type, severity, or
// unserializable metadata).
var ErrValidation = errors.New("validation failed")

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
