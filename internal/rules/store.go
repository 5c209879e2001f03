package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fleetworks/klaxon/internal/alerts"
	"github.com/fleetworks/klaxon/internal/metrics"
)

// ErrRuleExists is returned when creating a rule whose rule_id is taken.
var ErrRuleExists = errors.New("rule already exists")

// ListFilter controls rule listings.
type ListFilter struct {
	SourceType alerts.SourceType
	ActiveOnly bool
}

// Store persists rule definitions in SQLite and caches the active set.
type Store struct {
	db    *sql.DB
	cache *snapshotCache
}

// NewStore opens (or creates) a rules database.
func NewStore(dbPath string, cacheTTL time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open rules db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS rules (
		rule_id         TEXT PRIMARY KEY,
		source_type     TEXT NOT NULL,
		name            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		conditions_json TEXT NOT NULL,
		is_active       INTEGER NOT NULL DEFAULT 1,
		priority        INTEGER NOT NULL DEFAULT 1,
		created_at      TEXT NOT NULL,
		updated_at      TEXT
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create rules table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_rules_source_active ON rules(source_type, is_active)`)

	return &Store{db: db, cache: newSnapshotCache(cacheTTL)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new rule. A duplicate rule_id fails with ErrRuleExists.
func (s *Store) Create(ctx context.Context, rule Rule) (*Rule, error) {
	defer s.cache.invalidate()

	if err := validateRule(rule); err != nil {
		return nil, err
	}

	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, fmt.Errorf("marshal conditions: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `INSERT INTO rules
		(rule_id, source_type, name, description, conditions_json, is_active, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.RuleID,
		string(rule.SourceType),
		strings.TrimSpace(rule.Name),
		strings.TrimSpace(rule.Description),
		string(conditionsJSON),
		boolToInt(rule.IsActive),
		rule.Priority,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrRuleExists, rule.RuleID)
		}
		return nil, fmt.Errorf("insert rule: %w", err)
	}

	return s.Get(ctx, rule.RuleID)
}

// Update applies a partial update to an existing rule.
func (s *Store) Update(ctx context.Context, ruleID string, patch Patch) (*Rule, error) {
	defer s.cache.invalidate()

	existing, err := s.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if patch.Name != nil {
		updated.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		updated.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.SourceType != nil {
		updated.SourceType = *patch.SourceType
	}
	if patch.Conditions != nil {
		updated.Conditions = *patch.Conditions
	}
	if patch.IsActive != nil {
		updated.IsActive = *patch.IsActive
	}
	if patch.Priority != nil {
		updated.Priority = *patch.Priority
	}
	if err := validateRule(updated); err != nil {
		return nil, err
	}

	conditionsJSON, err := json.Marshal(updated.Conditions)
	if err != nil {
		return nil, fmt.Errorf("marshal conditions: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE rules
		SET source_type = ?, name = ?, description = ?, conditions_json = ?, is_active = ?, priority = ?, updated_at = ?
		WHERE rule_id = ?`,
		string(updated.SourceType),
		updated.Name,
		updated.Description,
		string(conditionsJSON),
		boolToInt(updated.IsActive),
		updated.Priority,
		time.Now().UTC().Format(time.RFC3339Nano),
		ruleID,
	)
	if err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return nil, sql.ErrNoRows
	}

	return s.Get(ctx, ruleID)
}

// Delete removes a rule by rule_id.
func (s *Store) Delete(ctx context.Context, ruleID string) error {
	defer s.cache.invalidate()

	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE rule_id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Get returns one rule by rule_id.
func (s *Store) Get(ctx context.Context, ruleID string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, selectRule+` WHERE rule_id = ?`, ruleID)
	return scanRule(row)
}

// List returns rules matching the filter, highest priority first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Rule, error) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.SourceType != "" {
		clauses = append(clauses, "source_type = ?")
		args = append(args, string(filter.SourceType))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "is_active = 1")
	}

	stmt := selectRule
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += " ORDER BY priority DESC, rowid ASC"

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	out := make([]Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// ActiveForSource returns the active rules for one source type, priority
// descending with ties broken by insertion order.
func (s *Store) ActiveForSource(ctx context.Context, source alerts.SourceType) ([]Rule, error) {
	return s.List(ctx, ListFilter{SourceType: source, ActiveOnly: true})
}

// AllActive returns every active rule grouped by source type. The result is
// served from a TTL snapshot cache; any rule mutation invalidates it.
func (s *Store) AllActive(ctx context.Context) (map[alerts.SourceType][]Rule, error) {
	if snapshot, ok := s.cache.get(); ok {
		metrics.RuleCacheHits.Inc()
		return snapshot, nil
	}
	metrics.RuleCacheMisses.Inc()

	active, err := s.List(ctx, ListFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	grouped := make(map[alerts.SourceType][]Rule)
	for _, rule := range active {
		grouped[rule.SourceType] = append(grouped[rule.SourceType], rule)
	}
	s.cache.set(grouped)

	return grouped, nil
}

// InvalidateCache drops the active-rule snapshot.
func (s *Store) InvalidateCache() {
	s.cache.invalidate()
}

const selectRule = `SELECT rule_id, source_type, name, description, conditions_json, is_active, priority, created_at, updated_at FROM rules`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (*Rule, error) {
	var (
		rule           Rule
		conditionsJSON string
		isActive       int
		createdAt      string
		updatedAt      sql.NullString
	)

	if err := sc.Scan(
		&rule.RuleID,
		&rule.SourceType,
		&rule.Name,
		&rule.Description,
		&conditionsJSON,
		&isActive,
		&rule.Priority,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	rule.IsActive = isActive == 1
	_ = json.Unmarshal([]byte(conditionsJSON), &rule.Conditions)
	rule.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if updatedAt.Valid && updatedAt.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt.String); err == nil {
			rule.UpdatedAt = &ts
		}
	}
	return &rule, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsNotFound reports whether err is sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
