// Package redis implements vectorstore.Store on plain Redis data structures.
//
// Layout, for a collection C:
//
//	C:meta                 hash    dimension, metric
//	C:rec:<id>             hash    vector, payload, metadata, timestamps
//	C:idx:all              set     every record id
//	C:idx:<field>:<value>  set     ids per tenant, user, provider and model
//	C:idx:created          zset    ids scored by creation unix millis
//	C:idx:expires          zset    ids scored by expiry unix millis
//
// Filters intersect the index sets server-side; similarity is scored over
// the surviving candidates after a pipelined fetch.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pario-ai/simcache/pkg/models"
	"github.com/pario-ai/simcache/pkg/vectorstore"
)

const backend = "redis"

// Record hash fields.
const (
	fieldVector    = "vector"
	fieldPayload   = "payload"
	fieldProvider  = "provider"
	fieldModel     = "model"
	fieldUserID    = "user_id"
	fieldTenantID  = "tenant_id"
	fieldPrompt    = "prompt"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

// Options configures the Redis connection.
type Options struct {
	Addr       string
	Password   string
	DB         int
	Collection string
}

// Store is a vector store on a shared Redis server.
type Store struct {
	rdb        *goredis.Client
	collection string
	dim        atomic.Int64
}

var _ vectorstore.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Collection == "" {
		return nil, errors.New("collection name is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, vectorstore.Unavailable(backend, "connect", err)
	}
	return &Store{rdb: rdb, collection: opts.Collection}, nil
}

func (s *Store) key(parts ...string) string {
	k := s.collection
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *Store) recordKey(id string) string { return s.key("rec", id) }

func (s *Store) indexKey(field, value string) string { return s.key("idx", field, value) }

// scopeKeys returns the index sets a record with md belongs to.
func (s *Store) scopeKeys(md models.Metadata) []string {
	keys := []string{s.key("idx", "all")}
	for _, f := range []struct{ field, value string }{
		{fieldTenantID, md.TenantID},
		{fieldUserID, md.UserID},
		{fieldProvider, md.Provider},
		{fieldModel, md.Model},
	} {
		if f.value != "" {
			keys = append(keys, s.indexKey(f.field, f.value))
		}
	}
	return keys
}

// filterKeys returns the index sets to intersect for f.
func (s *Store) filterKeys(f vectorstore.Filter) []string {
	return s.scopeKeys(models.Metadata{
		TenantID: f.TenantID,
		UserID:   f.UserID,
		Provider: f.Provider,
		Model:    f.Model,
	})
}

// EnsureCollection records the dimension and metric in C:meta. Index sets
// are created lazily by writes. A later call with another dimension fails
// with vectorstore.ErrDimensionMismatch.
func (s *Store) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("ensure collection: dimension must be positive, got %d", dim)
	}
	meta := s.key("meta")

	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSetNX(ctx, meta, "dimension", dim)
		pipe.HSetNX(ctx, meta, "metric", vectorstore.MetricCosine)
		return nil
	})
	if err != nil {
		return vectorstore.Unavailable(backend, "ensure collection", err)
	}

	vals, err := s.rdb.HMGet(ctx, meta, "dimension", "metric").Result()
	if err != nil {
		return vectorstore.Unavailable(backend, "read collection", err)
	}
	existing, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return fmt.Errorf("collection %q: corrupt dimension %v", s.collection, vals[0])
	}
	if metric := fmt.Sprint(vals[1]); metric != vectorstore.MetricCosine {
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

// Search intersects the filter's index sets and scores the candidates.
func (s *Store) Search(ctx context.Context, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.Match, error) {
	dim, err := s.dimension()
	if err != nil {
		return nil, err
	}
	if err := vectorstore.CheckDimension(dim, len(vector)); err != nil {
		return nil, err
	}

	ids, err := s.rdb.SInter(ctx, s.filterKeys(opts.Filter)...).Result()
	if err != nil {
		return nil, vectorstore.Unavailable(backend, "search", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, vectorstore.Unavailable(backend, "search", err)
	}

	var matches []vectorstore.Match
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Swept between the intersection and the fetch.
			continue
		}
		rec, err := decodeRecord(ids[i], fields)
		if err != nil {
			return nil, err
		}
		score := vectorstore.Cosine(vector, rec.Vector)
		if score < opts.ScoreThreshold {
			continue
		}
		matches = append(matches, vectorstore.Match{Record: rec, Score: score})
	}
	return vectorstore.Rank(matches, opts.Limit), nil
}

func decodeRecord(id string, fields map[string]string) (models.Record, error) {
	rec := models.Record{
		ID:      id,
		Payload: []byte(fields[fieldPayload]),
		Metadata: models.Metadata{
			Provider: fields[fieldProvider],
			Model:    fields[fieldModel],
			UserID:   fields[fieldUserID],
			TenantID: fields[fieldTenantID],
			Prompt:   fields[fieldPrompt],
		},
	}

	var err error
	rec.Vector, err = vectorstore.DecodeVector([]byte(fields[fieldVector]))
	if err != nil {
		return rec, fmt.Errorf("record %s: %w", id, err)
	}

	created, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return rec, fmt.Errorf("record %s: created_at: %w", id, err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()

	if raw, ok := fields[fieldExpiresAt]; ok && raw != "" {
		exp, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return rec, fmt.Errorf("record %s: expires_at: %w", id, err)
		}
		t := time.Unix(0, exp).UTC()
		rec.ExpiresAt = &t
	}
	return rec, nil
}

// Store writes the record hash and its index memberships in one transaction.
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
	md := entry.Metadata

	fields := map[string]any{
		fieldVector:    vectorstore.EncodeVector(entry.Vector),
		fieldPayload:   entry.Payload,
		fieldProvider:  md.Provider,
		fieldModel:     md.Model,
		fieldUserID:    md.UserID,
		fieldTenantID:  md.TenantID,
		fieldPrompt:    md.Prompt,
		fieldCreatedAt: created.UnixNano(),
	}
	if expires != nil {
		fields[fieldExpiresAt] = expires.UnixNano()
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(id), fields)
		for _, k := range s.scopeKeys(md) {
			pipe.SAdd(ctx, k, id)
		}
		pipe.ZAdd(ctx, s.key("idx", "created"), goredis.Z{Score: float64(created.UnixMilli()), Member: id})
		if expires != nil {
			pipe.ZAdd(ctx, s.key("idx", "expires"), goredis.Z{Score: float64(expires.UnixMilli()), Member: id})
		}
		return nil
	})
	if err != nil {
		return "", vectorstore.Unavailable(backend, "store", err)
	}
	return id, nil
}

// SweepExpired removes every record whose expiry is at or before now,
// along with its index memberships.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expiresKey := s.key("idx", "expires")
	ids, err := s.rdb.ZRangeByScore(ctx, expiresKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, vectorstore.Unavailable(backend, "sweep", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// The expiry index has millisecond resolution; the record hash has the
	// exact expiry, so candidates in the same millisecond as now are rechecked.
	cutoff := now.UnixNano()
	removed, err := s.removeRecords(ctx, ids, func(expiresAt string) bool {
		exp, err := strconv.ParseInt(expiresAt, 10, 64)
		return err == nil && exp > cutoff
	})
	if err != nil {
		return 0, vectorstore.Unavailable(backend, "sweep", err)
	}
	return removed, nil
}

// removeRecords deletes the given records and their index memberships in
// one transaction. Records for which keep returns true, given their stored
// expires_at, are left alone; a nil keep removes every id.
func (s *Store) removeRecords(ctx context.Context, ids []string, keep func(expiresAt string) bool) (int, error) {
	metas := make([]*goredis.SliceCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			metas[i] = pipe.HMGet(ctx, s.recordKey(id), fieldTenantID, fieldUserID, fieldProvider, fieldModel, fieldExpiresAt)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	dels := make([]*goredis.IntCmd, 0, len(ids))
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			vals := metas[i].Val()
			if keep != nil && keep(stringAt(vals, 4)) {
				continue
			}
			md := models.Metadata{
				TenantID: stringAt(vals, 0),
				UserID:   stringAt(vals, 1),
				Provider: stringAt(vals, 2),
				Model:    stringAt(vals, 3),
			}
			dels = append(dels, pipe.Del(ctx, s.recordKey(id)))
			for _, k := range s.scopeKeys(md) {
				pipe.SRem(ctx, k, id)
			}
			pipe.ZRem(ctx, s.key("idx", "created"), id)
			pipe.ZRem(ctx, s.key("idx", "expires"), id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, d := range dels {
		removed += int(d.Val())
	}
	return removed, nil
}

func stringAt(vals []any, i int) string {
	if i >= len(vals) || vals[i] == nil {
		return ""
	}
	if s, ok := vals[i].(string); ok {
		return s
	}
	return fmt.Sprint(vals[i])
}

// Count returns the size of the collection.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, s.key("idx", "all")).Result()
	if err != nil {
		return 0, vectorstore.Unavailable(backend, "count", err)
	}
	return n, nil
}

// Clear removes every record of the collection and its indexes, keeping
// its dimension and metric. Only ids listed in C:idx:all are touched, so
// collections whose names share a prefix are unaffected.
func (s *Store) Clear(ctx context.Context) error {
	allKey := s.key("idx", "all")
	ids, err := s.rdb.SMembers(ctx, allKey).Result()
	if err != nil {
		return vectorstore.Unavailable(backend, "clear", err)
	}
	if len(ids) > 0 {
		if _, err := s.removeRecords(ctx, ids, nil); err != nil {
			return vectorstore.Unavailable(backend, "clear", err)
		}
	}
	if err := s.rdb.Del(ctx, allKey, s.key("idx", "created"), s.key("idx", "expires")).Err(); err != nil {
		return vectorstore.Unavailable(backend, "clear", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
