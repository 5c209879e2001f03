// Package idgen produces monotonic, year-scoped alert identifiers of the form
// {PREFIX}-{YEAR}-{NNNNN} backed by atomic per-(prefix, year) counters.
package idgen

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fleetworks/klaxon/internal/alerts"
)

// sourcePrefixes maps each source type to its three-letter alert-id prefix.
var sourcePrefixes = map[alerts.SourceType]string{
	alerts.SourceOverspeeding:     "OSP",
	alerts.SourceCompliance:       "CMP",
	alerts.SourceFeedbackNegative: "FBN",
	alerts.SourceFeedbackPositive: "FBP",
	alerts.SourceDocumentExpiry:   "DOC",
	alerts.SourceSafety:           "SAF",
}

// Generator allocates alert ids from a SQLite counters table. It holds no
// in-memory sequence state: every call is one atomic upsert-increment, so
// concurrent callers never receive the same id.
type Generator struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the counters database.
func New(dbPath string) (*Generator, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open counters db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS counters (
		id       TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create counters table: %w", err)
	}

	return &Generator{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (g *Generator) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

// Next returns the next alert id for a source type, e.g. "OSP-2026-00042".
// The sequence is scoped to (prefix, year); the zero padding widens past
// five digits instead of wrapping.
func (g *Generator) Next(ctx context.Context, source alerts.SourceType) (string, error) {
	prefix, ok := sourcePrefixes[source]
	if !ok {
		return "", fmt.Errorf("unknown source type: %s", source)
	}

	year := g.now().UTC().Year()
	counterID := fmt.Sprintf("alert_%s_%d", prefix, year)

	var sequence int64
	err := g.db.QueryRowContext(ctx, `INSERT INTO counters (id, sequence) VALUES (?, 1)
		ON CONFLICT(id) DO UPDATE SET sequence = sequence + 1
		RETURNING sequence`, counterID).Scan(&sequence)
	if err != nil {
		return "", fmt.Errorf("increment counter %s: %w", counterID, err)
	}

	return fmt.Sprintf("%s-%d-%05d", prefix, year, sequence), nil
}
