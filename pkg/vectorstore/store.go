// Package vectorstore defines the contract between the cache engine and the
// vector index holding cached records, plus helpers shared by the backends.
//
// Backends live in subpackages: sqlite for an embedded single-file store and
// redis for a shared networked store. Every backend is safe for concurrent
// use and scores with cosine similarity clamped to [0,1].
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/simcache/pkg/models"
)

// MetricCosine is the only distance metric collections are created with.
const MetricCosine = "cosine"

// ErrDimensionMismatch is returned when a collection already exists with a
// different dimension, or a vector's length disagrees with the collection.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrCollectionNotReady is returned when an operation runs before EnsureCollection.
var ErrCollectionNotReady = errors.New("collection not initialised")

// Store is a vector index holding cache records.
type Store interface {
	// EnsureCollection creates the collection with the given dimension and
	// cosine metric if absent, plus the indexes used by scoping filters.
	// It is idempotent.
	EnsureCollection(ctx context.Context, dim int) error
	// Search returns at most opts.Limit matches scoring at least
	// opts.ScoreThreshold, restricted to opts.Filter, best first.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error)
	// Store inserts a new record and returns its id.
	Store(ctx context.Context, entry Entry) (string, error)
	// SweepExpired deletes every record whose expiry is at or before now
	// and returns how many were removed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	// Count returns the number of records in the collection.
	Count(ctx context.Context) (int64, error)
	// Close releases resources.
	Close() error
}

// SearchOptions configures a similarity search.
type SearchOptions struct {
	Limit          int
	ScoreThreshold float64
	Filter         Filter
}

// Match is a search hit.
type Match struct {
	Record models.Record
	Score  float64
}

// Entry is a record to be written. CreatedAt defaults to the current time;
// a positive TTL sets ExpiresAt = CreatedAt + TTL.
type Entry struct {
	Vector    []float32
	Payload   []byte
	Metadata  models.Metadata
	TTL       time.Duration
	CreatedAt time.Time
}

// Timestamps resolves the creation and optional expiry time of e.
func (e Entry) Timestamps() (time.Time, *time.Time) {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	created = created.UTC()
	if e.TTL <= 0 {
		return created, nil
	}
	expires := created.Add(e.TTL)
	return created, &expires
}

// UnavailableError wraps a transport or driver failure of a backend.
type UnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Backend, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err in an UnavailableError, or returns nil for a nil err.
func Unavailable(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Backend: backend, Op: op, Err: err}
}

// CheckDimension returns ErrDimensionMismatch if got differs from want.
func CheckDimension(want, got int) error {
	if want != got {
		return fmt.Errorf("%w: collection has %d, vector has %d", ErrDimensionMismatch, want, got)
	}
	return nil
}
