package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/simcache/pkg/models"
	"github.com/pario-ai/simcache/pkg/vectorstore"
)

const backend = "sqlite"

// Store is an embedded vector store backed by a single SQLite file.
// Scoping filters run as indexed SQL predicates; similarity is scored in Go
// over the filtered candidates.
type Store struct {
	db         *sql.DB
	collection string
	dim        atomic.Int64
}

var _ vectorstore.Store = (*Store)(nil)

const createTables = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL,
	metric TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_records (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	vector BLOB NOT NULL,
	payload BLOB NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	tenant_id TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	expires_at INTEGER
);
`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_records_tenant ON cache_records(collection, tenant_id);
CREATE INDEX IF NOT EXISTS idx_records_provider ON cache_records(collection, provider);
CREATE INDEX IF NOT EXISTS idx_records_model ON cache_records(collection, model);
CREATE INDEX IF NOT EXISTS idx_records_user ON cache_records(collection, user_id);
CREATE INDEX IF NOT EXISTS idx_records_expires ON cache_records(collection, expires_at);
CREATE INDEX IF NOT EXISTS idx_records_created ON cache_records(collection, created_at);
`

// New opens (or creates) the database at dbPath and binds the store to collection.
func New(dbPath, collection string) (*Store, error) {
	if collection == "" {
		return nil, errors.New("collection name is required")
	}
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}

	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate vector db: %w", err)
	}

	return &Store{db: db, collection: collection}, nil
}

// dsn enables a busy timeout so concurrent writers wait instead of failing.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)"
}

// EnsureCollection registers the collection with dim and the cosine metric,
// creating the scoping indexes. A later call with another dim fails with
// vectorstore.ErrDimensionMismatch.
func (s *Store) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("ensure collection: dimension must be positive, got %d", dim)
	}
	if _, err := s.db.ExecContext(ctx, createIndexes); err != nil {
		return vectorstore.Unavailable(backend, "create indexes", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, metric, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		s.collection, dim, vectorstore.MetricCosine, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return vectorstore.Unavailable(backend, "ensure collection", err)
	}

	var existing int
	var metric string
	err = s.db.QueryRowContext(ctx,
		`SELECT dimension, metric FROM collections WHERE name = ?`, s.collection,
	).Scan(&existing, &metric)
	if err != nil {
		return vectorstore.Unavailable(backend, "read collection", err)
	}
	if metric != vectorstore.MetricCosine {
		return fmt.Errorf("collection %q uses metric %q, want %q", s.collection, metric, vectorstore.MetricCosine)
	}
	if err := vectorstore.CheckDimension(existing, dim); err != nil {
		return fmt.Errorf("collection %q: %w", s.collection, err)
	}

	s.dim.Store(int64(dim))
	return nil
}

func (s *Store) dimension() (int, error) {
	d := int(s.dim.Load())
	if d == 0 {
		return 0, fmt.Errorf("collection %q: %w", s.collection, vectorstore.ErrCollectionNotReady)
	}
	return d, nil
}

// Search scores every record matching opts.Filter against vector.
func (s *Store) Search(ctx context.Context, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.Match, error) {
	dim, err := s.dimension()
	if err != nil {
		return nil, err
	}
	if err := vectorstore.CheckDimension(dim, len(vector)); err != nil {
		return nil, err
	}

	query := `SELECT id, vector, payload, provider, model, user_id, tenant_id, prompt, created_at, expires_at
		FROM cache_records WHERE collection = ?`
	args := []any{s.collection}
	f := opts.Filter
	for _, c := range []struct{ column, value string }{
		{"tenant_id", f.TenantID},
		{"user_id", f.UserID},
		{"provider", f.Provider},
		{"model", f.Model},
	} {
		if c.value != "" {
			query += ` AND ` + c.column + ` = ?`
			args = append(args, c.value)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vectorstore.Unavailable(backend, "search", err)
	}
	defer rows.Close()

	var matches []vectorstore.Match
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		score := vectorstore.Cosine(vector, rec.Vector)
		if score < opts.ScoreThreshold {
			continue
		}
		matches = append(matches, vectorstore.Match{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, vectorstore.Unavailable(backend, "search", err)
	}

	return vectorstore.Rank(matches, opts.Limit), nil
}

func scanRecord(rows *sql.Rows) (models.Record, error) {
	var (
		rec       models.Record
		blob      []byte
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := rows.Scan(&rec.ID, &blob, &rec.Payload,
		&rec.Metadata.Provider, &rec.Metadata.Model, &rec.Metadata.UserID, &rec.Metadata.TenantID, &rec.Metadata.Prompt,
		&createdAt, &expiresAt)
	if err != nil {
		return rec, vectorstore.Unavailable(backend, "scan record", err)
	}

	rec.Vector, err = vectorstore.DecodeVector(blob)
	if err != nil {
		return rec, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	if expiresAt.Valid {
		exp := time.Unix(0, expiresAt.Int64).UTC()
		rec.ExpiresAt = &exp
	}
	return rec, nil
}

// Store inserts a new record.
func (s *Store) Store(ctx context.Context, entry vectorstore.Entry) (string, error) {
	dim, err := s.dimension()
	if err != nil {
		return "", err
	}
	if err := vectorstore.CheckDimension(dim, len(entry.Vector)); err != nil {
		return "", err
	}

	id := uuid.NewString()
	created, expires := entry.Timestamps()
	var expiresAt sql.NullInt64
	if expires != nil {
		expiresAt = sql.NullInt64{Int64: expires.UnixNano(), Valid: true}
	}
	payload := entry.Payload
	if payload == nil {
		payload = []byte{}
	}

	md := entry.Metadata
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_records (id, collection, vector, payload, provider, model, user_id, tenant_id, prompt, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.collection, vectorstore.EncodeVector(entry.Vector), payload,
		md.Provider, md.Model, md.UserID, md.TenantID, md.Prompt,
		created.UnixNano(), expiresAt,
	)
	if err != nil {
		return "", vectorstore.Unavailable(backend, "store", err)
	}
	return id, nil
}

// SweepExpired deletes records with expires_at <= now.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_records WHERE collection = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		s.collection, now.UTC().UnixNano(),
	)
	if err != nil {
		return 0, vectorstore.Unavailable(backend, "sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, vectorstore.Unavailable(backend, "sweep", err)
	}
	return int(n), nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_records WHERE collection = ?`, s.collection,
	).Scan(&count)
	if err != nil {
		return 0, vectorstore.Unavailable(backend, "count", err)
	}
	return count, nil
}

// Clear removes every record of the collection.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_records WHERE collection = ?`, s.collection)
	if err != nil {
		return vectorstore.Unavailable(backend, "clear", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
