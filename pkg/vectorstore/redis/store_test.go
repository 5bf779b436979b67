package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/simcache/pkg/models"
	"github.com/pario-ai/simcache/pkg/vectorstore"
)

// setupStore starts a miniredis server and returns a store bound to it with
// the collection initialised at dim.
func setupStore(t *testing.T, dim int) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	s, err := New(context.Background(), Options{Addr: mr.Addr(), Collection: "llm_cache"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.EnsureCollection(context.Background(), dim))
	return s, mr
}

func TestNew_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Options{Addr: addr, Collection: "llm_cache"})
	var ue *vectorstore.UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "connect", ue.Op)
}

func TestNew_RequiresCollection(t *testing.T) {
	mr := miniredis.RunT(t)
	_, err := New(context.Background(), Options{Addr: mr.Addr()})
	assert.Error(t, err)
}

func TestEnsureCollection(t *testing.T) {
	s, mr := setupStore(t, 4)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, s.EnsureCollection(ctx, 4))
	}
	assert.Equal(t, "4", mr.HGet("llm_cache:meta", "dimension"))
	assert.Equal(t, vectorstore.MetricCosine, mr.HGet("llm_cache:meta", "metric"))

	err := s.EnsureCollection(ctx, 8)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestEnsureCollection_SharedAcrossClients(t *testing.T) {
	s, mr := setupStore(t, 4)

	other, err := New(context.Background(), Options{Addr: mr.Addr(), Collection: "llm_cache"})
	require.NoError(t, err)
	defer other.Close()

	assert.ErrorIs(t, other.EnsureCollection(context.Background(), 16), vectorstore.ErrDimensionMismatch)
	require.NoError(t, other.EnsureCollection(context.Background(), 4))

	_, err = s.Store(context.Background(), vectorstore.Entry{Vector: []float32{1, 0, 0, 0}, Payload: []byte("x")})
	require.NoError(t, err)
	count, err := other.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestNotReady(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), Options{Addr: mr.Addr(), Collection: "llm_cache"})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Search(context.Background(), []float32{1}, vectorstore.SearchOptions{Limit: 1})
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotReady)
	_, err = s.Store(context.Background(), vectorstore.Entry{Vector: []float32{1}})
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotReady)
}

func TestStoreAndSearch(t *testing.T) {
	s, mr := setupStore(t, 3)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := s.Store(ctx, vectorstore.Entry{
		Vector:    []float32{1, 0, 0},
		Payload:   []byte(`{"answer":"Paris"}`),
		Metadata:  models.Metadata{Provider: "openai", Model: "gpt-4o", UserID: "u1", TenantID: "acme", Prompt: "capital of france"},
		TTL:       time.Minute,
		CreatedAt: created,
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("llm_cache:rec:"+id))
	ok, _ := mr.SIsMember("llm_cache:idx:tenant_id:acme", id)
	assert.True(t, ok, "tenant index membership")

	matches, err := s.Search(ctx, []float32{2, 0, 0}, vectorstore.SearchOptions{Limit: 1, ScoreThreshold: 0.9})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	rec := matches[0].Record
	assert.Equal(t, id, rec.ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, `{"answer":"Paris"}`, string(rec.Payload))
	assert.Equal(t, []float32{1, 0, 0}, rec.Vector)
	assert.Equal(t, "capital of france", rec.Metadata.Prompt)
	assert.Equal(t, "u1", rec.Metadata.UserID)
	assert.True(t, rec.CreatedAt.Equal(created))
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, rec.ExpiresAt.Equal(created.Add(time.Minute)))
}

func TestStoreWithoutTTL(t *testing.T) {
	s, mr := setupStore(t, 2)
	ctx := context.Background()

	id, err := s.Store(ctx, vectorstore.Entry{Vector: []float32{1, 1}, Payload: []byte("forever")})
	require.NoError(t, err)

	matches, err := s.Search(ctx, []float32{1, 1}, vectorstore.SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Nil(t, matches[0].Record.ExpiresAt)

	members, _ := mr.ZMembers("llm_cache:idx:expires")
	assert.NotContains(t, members, id)
}

func TestSearchOrderingLimitAndThreshold(t *testing.T) {
	s, _ := setupStore(t, 2)
	ctx := context.Background()

	vectors := [][]float32{{1, 0}, {1, 0.2}, {1, 0.5}, {1, 1}, {0.2, 1}, {0, 1}}
	for i, v := range vectors {
		_, err := s.Store(ctx, vectorstore.Entry{Vector: v, Payload: []byte(fmt.Sprint(i))})
		require.NoError(t, err)
	}

	matches, err := s.Search(ctx, []float32{1, 0}, vectorstore.SearchOptions{Limit: 3, ScoreThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for i, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.5)
		assert.Equal(t, fmt.Sprint(i), string(m.Record.Payload))
		if i > 0 {
			assert.LessOrEqual(t, m.Score, matches[i-1].Score)
		}
	}

	all, err := s.Search(ctx, []float32{1, 0}, vectorstore.SearchOptions{Limit: 10, ScoreThreshold: 0.5})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSearchFilters(t *testing.T) {
	s, _ := setupStore(t, 2)
	ctx := context.Background()

	for _, md := range []models.Metadata{
		{TenantID: "acme", Provider: "openai", Model: "gpt-4o", UserID: "alice"},
		{TenantID: "acme", Provider: "openai", Model: "gpt-4o-mini", UserID: "bob"},
		{TenantID: "globex", Provider: "openai", Model: "gpt-4o", UserID: "carol"},
		{Provider: "openai", Model: "gpt-4o"},
	} {
		_, err := s.Store(ctx, vectorstore.Entry{Vector: []float32{1, 0}, Payload: []byte(md.UserID), Metadata: md})
		require.NoError(t, err)
	}

	search := func(f vectorstore.Filter) []vectorstore.Match {
		t.Helper()
		m, err := s.Search(ctx, []float32{1, 0}, vectorstore.SearchOptions{Limit: 10, Filter: f})
		require.NoError(t, err)
		return m
	}

	assert.Len(t, search(vectorstore.NewFilter()), 4)
	assert.Len(t, search(vectorstore.NewFilter().WithTenant("acme")), 2)
	assert.Len(t, search(vectorstore.NewFilter().WithTenant("globex")), 1)
	assert.Empty(t, search(vectorstore.NewFilter().WithTenant("initech")))

	scoped := search(vectorstore.NewFilter().WithTenant("acme").WithModel("gpt-4o-mini"))
	require.Len(t, scoped, 1)
	assert.Equal(t, "bob", string(scoped[0].Record.Payload))

	assert.Len(t, search(vectorstore.NewFilter().WithProvider("openai").WithModel("gpt-4o")), 3)
	assert.Len(t, search(vectorstore.NewFilter().WithUser("alice")), 1)
}

func TestSearchSkipsRecordsDeletedMidway(t *testing.T) {
	s, mr := setupStore(t, 2)
	ctx := context.Background()

	id, err := s.Store(ctx, vectorstore.Entry{Vector: []float32{1, 0}})
	require.NoError(t, err)
	mr.Del("llm_cache:rec:" + id)

	matches, err := s.Search(ctx, []float32{1, 0}, vectorstore.SearchOptions{Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStoreDimensionMismatch(t *testing.T) {
	s, _ := setupStore(t, 3)
	_, err := s.Store(context.Background(), vectorstore.Entry{Vector: []float32{1}})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	_, err = s.Search(context.Background(), []float32{1}, vectorstore.SearchOptions{Limit: 1})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestSweepExpired(t *testing.T) {
	s, mr := setupStore(t, 2)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	short, err := s.Store(ctx, vectorstore.Entry{Vector: []float32{1, 0}, TTL: 10 * time.Second, CreatedAt: base, Metadata: models.Metadata{TenantID: "acme"}})
	require.NoError(t, err)
	_, err = s.Store(ctx, vectorstore.Entry{Vector: []float32{1, 0}, TTL: time.Minute, CreatedAt: base})
	require.NoError(t, err)
	_, err = s.Store(ctx, vectorstore.Entry{Vector: []float32{1, 0}, CreatedAt: base})
	require.NoError(t, err)
	// Expires half a millisecond after the first sweep's cutoff.
	_, err = s.Store(ctx, vectorstore.Entry{Vector: []float32{1, 0}, TTL: 10*time.Second + 500*time.Microsecond, CreatedAt: base})
	require.NoError(t, err)

	n, err := s.SweepExpired(ctx, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("llm_cache:rec:"+short))
	ok, _ := mr.SIsMember("llm_cache:idx:tenant_id:acme", short)
	assert.False(t, ok, "tenant index cleaned up")

	n, err = s.SweepExpired(ctx, base.Add(11*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.SweepExpired(ctx, base.Add(59*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.SweepExpired(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// The surviving record is the one without a TTL.
	matches, err := s.Search(ctx, []float32{1, 0}, vectorstore.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Nil(t, matches[0].Record.ExpiresAt)
}

func TestClear(t *testing.T) {
	s, mr := setupStore(t, 2)
	ctx := context.Background()

	for range 3 {
		_, err := s.Store(ctx, vectorstore.Entry{Vector: []float32{1, 0}, TTL: time.Hour, Metadata: models.Metadata{TenantID: "acme"}})
		require.NoError(t, err)
	}
	require.NoError(t, s.Clear(ctx))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, []string{"llm_cache:meta"}, mr.Keys())

	// The collection stays usable.
	_, err = s.Store(ctx, vectorstore.Entry{Vector: []float32{0, 1}})
	assert.NoError(t, err)
}

func TestClear_LeavesPrefixedCollections(t *testing.T) {
	s, mr := setupStore(t, 2)
	ctx := context.Background()

	other, err := New(ctx, Options{Addr: mr.Addr(), Collection: "llm_cache:v2"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })
	require.NoError(t, other.EnsureCollection(ctx, 2))

	_, err = other.Store(ctx, vectorstore.Entry{Vector: []float32{1, 0}, TTL: time.Hour, Metadata: models.Metadata{TenantID: "acme"}})
	require.NoError(t, err)
	_, err = s.Store(ctx, vectorstore.Entry{Vector: []float32{1, 0}, Metadata: models.Metadata{TenantID: "acme"}})
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = other.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "clearing llm_cache must not touch llm_cache:v2")
	assert.True(t, mr.Exists("llm_cache:v2:meta"))

	matches, err := other.Search(ctx, []float32{1, 0}, vectorstore.SearchOptions{Limit: 1, Filter: vectorstore.NewFilter().WithTenant("acme")})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestUnavailableAfterServerStops(t *testing.T) {
	s, mr := setupStore(t, 2)
	mr.Close()

	_, err := s.Search(context.Background(), []float32{1, 0}, vectorstore.SearchOptions{Limit: 1})
	var ue *vectorstore.UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "redis", ue.Backend)

	_, err = s.SweepExpired(context.Background(), time.Now())
	assert.ErrorAs(t, err, &ue)
}
