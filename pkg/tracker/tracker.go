package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/simcache/pkg/models"
)

// Tracker records and queries capture outcomes.
type Tracker interface {
	// RecordCapture stores one capture outcome.
	RecordCapture(ctx context.Context, ev models.CaptureEvent) error
	// QueryByTenant returns capture events for a tenant since a given time, newest first.
	QueryByTenant(ctx context.Context, tenantID string, since time.Time) ([]models.CaptureEvent, error)
	// Summary returns outcome counts per tenant and model, optionally filtered by tenant.
	Summary(ctx context.Context, tenantID string) ([]models.CaptureSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS capture_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	score REAL NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_capture_tenant_time ON capture_events(tenant_id, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// RecordCapture stores a capture outcome. A zero CreatedAt is recorded as now.
func (t *SQLiteTracker) RecordCapture(ctx context.Context, ev models.CaptureEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO capture_events (tenant_id, provider, model, outcome, score, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.TenantID, ev.Provider, ev.Model, string(ev.Outcome), ev.Score, ev.Latency.Milliseconds(), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record capture: %w", err)
	}
	return nil
}

// QueryByTenant returns capture events for a tenant since a given time.
func (t *SQLiteTracker) QueryByTenant(ctx context.Context, tenantID string, since time.Time) ([]models.CaptureEvent, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, tenant_id, provider, model, outcome, score, latency_ms, created_at
		 FROM capture_events WHERE tenant_id = ? AND created_at >= ? ORDER BY created_at DESC, id DESC`,
		tenantID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var events []models.CaptureEvent
	for rows.Next() {
		var ev models.CaptureEvent
		var outcome string
		var latencyMS int64
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.Provider, &ev.Model, &outcome, &ev.Score, &latencyMS, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		ev.Outcome = models.CaptureOutcome(outcome)
		ev.Latency = time.Duration(latencyMS) * time.Millisecond
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Summary returns capture outcomes grouped by tenant and model.
func (t *SQLiteTracker) Summary(ctx context.Context, tenantID string) ([]models.CaptureSummary, error) {
	query := `SELECT tenant_id, model, COUNT(*),
		SUM(CASE WHEN outcome = 'hit' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'miss' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'stale' THEN 1 ELSE 0 END)
		FROM capture_events`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` GROUP BY tenant_id, model ORDER BY tenant_id, model`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.CaptureSummary
	for rows.Next() {
		var s models.CaptureSummary
		if err := rows.Scan(&s.TenantID, &s.Model, &s.Requests, &s.Hits, &s.Misses, &s.Stale); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
