package alerts

import (
	"context"
	"fmt"
	"time"
)

// Summary is the dashboard roll-up over the whole alerts collection.
type Summary struct {
	Total      int                `json:"total"`
	Active     int                `json:"active"`
	BySeverity map[Severity]int   `json:"by_severity"`
	ByStatus   map[Status]int     `json:"by_status"`
	BySource   map[SourceType]int `json:"by_source"`
}

// TopOffender is one driver ranked by alert volume.
type TopOffender struct {
	DriverID   string `json:"driver_id"`
	AlertCount int    `json:"alert_count"`
	Critical   int    `json:"critical_count"`
	Escalated  int    `json:"escalated_count"`
}

// TrendPoint is one day's alert volume.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// GetSummary computes status, severity, and source counts in one table scan.
func (s *Store) GetSummary(ctx context.Context) (*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, severity, source_type, COUNT(*)
		 FROM alerts GROUP BY status, severity, source_type`)
	if err != nil {
		return nil, fmt.Errorf("summary query: %w", err)
	}
	defer rows.Close()

	out := &Summary{
		BySeverity: make(map[Severity]int),
		ByStatus:   make(map[Status]int),
		BySource:   make(map[SourceType]int),
	}
	for rows.Next() {
		var (
			status   Status
			severity Severity
			source   SourceType
			count    int
		)
		if err := rows.Scan(&status, &severity, &source, &count); err != nil {
			return nil, err
		}
		out.Total += count
		out.ByStatus[status] += count
		out.BySeverity[severity] += count
		out.BySource[source] += count
		if !status.Terminal() {
			out.Active += count
		}
	}
	return out, rows.Err()
}

// TopOffenders ranks drivers by alert count since the cutoff.
func (s *Store) TopOffenders(ctx context.Context, since time.Time, limit int) ([]TopOffender, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT json_extract(metadata_json, '$.driver_id') AS driver_id,
		        COUNT(*),
		        SUM(CASE WHEN severity = ? THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END)
		 FROM alerts
		 WHERE driver_id IS NOT NULL AND timestamp >= ?
		 GROUP BY driver_id
		 ORDER BY COUNT(*) DESC
		 LIMIT ?`,
		string(SeverityCritical), string(StatusEscalated), formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("top offenders query: %w", err)
	}
	defer rows.Close()

	out := make([]TopOffender, 0, limit)
	for rows.Next() {
		var o TopOffender
		if err := rows.Scan(&o.DriverID, &o.AlertCount, &o.Critical, &o.Escalated); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Trend returns per-day alert counts for the trailing window.
func (s *Store) Trend(ctx context.Context, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(timestamp, 1, 10) AS day, COUNT(*)
		 FROM alerts WHERE timestamp >= ?
		 GROUP BY day ORDER BY day ASC`,
		formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("trend query: %w", err)
	}
	defer rows.Close()

	out := make([]TrendPoint, 0, days)
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Date, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
