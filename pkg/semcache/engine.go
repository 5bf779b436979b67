// Package semcache decides, per request, whether a previously produced
// result can be reused instead of calling an expensive producer.
//
// A capture embeds the prompt, searches the vector store within the
// caller's tenant, and serves the best match when it is both similar
// enough and fresh enough. Otherwise the producer runs and its result is
// stored with an expiry. Stale matches are not deleted or overwritten; they
// stay in the store until the expiry sweep removes them.
//
// The engine holds no per-request state. Concurrent misses for the same
// prompt may each call the producer and each write a record.
package semcache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pario-ai/simcache/pkg/config"
	"github.com/pario-ai/simcache/pkg/embedding"
	"github.com/pario-ai/simcache/pkg/models"
	"github.com/pario-ai/simcache/pkg/vectorstore"
)

// Producer computes a fresh result on a cache miss. Its error is returned
// to the capture caller unchanged.
type Producer func(ctx context.Context) ([]byte, error)

// Recorder receives the outcome of every successful capture.
type Recorder interface {
	RecordCapture(ctx context.Context, ev models.CaptureEvent) error
}

// Engine is the cache decision engine.
type Engine struct {
	cfg      *config.Config
	embedder embedding.Provider
	store    vectorstore.Store
	logger   *slog.Logger
	metrics  *Metrics
	recorder Recorder
	now      func() time.Time

	dim    atomic.Int64
	hits   atomic.Int64
	misses atomic.Int64
	stale  atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRecorder attaches a capture outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. Init must be called before Capture or Suggest.
func New(cfg *config.Config, embedder embedding.Provider, store vectorstore.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init asks the embedding provider for its dimension and ensures the
// store's collection exists with that dimension.
func (e *Engine) Init(ctx context.Context) error {
	dim, err := embedding.DetectDimension(ctx, e.embedder)
	if err != nil {
		return err
	}
	if err := e.store.EnsureCollection(ctx, dim); err != nil {
		return fmt.Errorf("ensure collection %q: %w", e.cfg.CollectionName, err)
	}
	e.dim.Store(int64(dim))
	e.logger.Info("semantic cache ready",
		"collection", e.cfg.CollectionName,
		"embedding_model", e.embedder.Model(),
		"dimension", dim)
	return nil
}

// Dimension returns the established vector dimension, or 0 before Init.
func (e *Engine) Dimension() int {
	return int(e.dim.Load())
}

// embed produces the vector for text and checks it against the collection dimension.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	want := e.Dimension()
	if want == 0 {
		return nil, fmt.Errorf("semantic cache: %w", vectorstore.ErrCollectionNotReady)
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed prompt: %w", err)
	}
	if len(vec) != want {
		return nil, &DimensionMismatchError{Model: e.embedder.Model(), Want: want, Got: len(vec)}
	}
	return vec, nil
}

func (e *Engine) maxAge(p models.Policy) time.Duration {
	if p.MaxAge != nil {
		return *p.MaxAge
	}
	return e.cfg.Cache.DefaultTTL
}

func (e *Engine) threshold(p models.Policy) float64 {
	if p.MinSimilarity != nil {
		return *p.MinSimilarity
	}
	return e.cfg.Cache.SimilarityThreshold
}

func validatePolicy(p models.Policy) error {
	if p.MaxAge != nil && *p.MaxAge < 0 {
		return fmt.Errorf("%w: max age %s is negative", ErrInvalidPolicy, *p.MaxAge)
	}
	if p.MinSimilarity != nil && (*p.MinSimilarity < 0 || *p.MinSimilarity > 1) {
		return fmt.Errorf("%w: min similarity %g is outside [0, 1]", ErrInvalidPolicy, *p.MinSimilarity)
	}
	return nil
}

// Capture returns a cached result for req when a similar, fresh record
// exists in the caller's tenant; otherwise it calls produce, stores the
// result and returns it.
func (e *Engine) Capture(ctx context.Context, req models.CaptureRequest, produce Producer) (models.CaptureResult, error) {
	if err := validatePolicy(req.Policy); err != nil {
		return models.CaptureResult{}, err
	}
	start := e.now()

	vec, err := e.embed(ctx, req.Prompt)
	if err != nil {
		e.metrics.captureError("embed")
		return models.CaptureResult{}, err
	}

	filter := vectorstore.NewFilter().WithTenant(req.Metadata.TenantID)
	maxAge := e.maxAge(req.Policy)

	matches, err := e.store.Search(ctx, vec, vectorstore.SearchOptions{
		Limit:          1,
		ScoreThreshold: e.threshold(req.Policy),
		Filter:         filter,
	})
	if err != nil {
		e.metrics.captureError("search")
		return models.CaptureResult{}, fmt.Errorf("search cache: %w", err)
	}

	outcome := models.OutcomeMiss
	var bestScore float64
	if len(matches) > 0 {
		match := matches[0]
		bestScore = match.Score
		age := start.Sub(match.Record.CreatedAt)
		// Freshness wins over similarity: a close but old match is a miss.
		if maxAge == 0 || age < maxAge {
			e.hits.Add(1)
			e.logger.Debug("cache hit",
				"record_id", match.Record.ID,
				"score", match.Score,
				"age", age,
				"tenant_id", req.Metadata.TenantID)
			e.finish(ctx, req, models.OutcomeHit, match.Score, start)
			return models.CaptureResult{
				Payload:   match.Record.Payload,
				Cached:    true,
				CostSaved: true,
				RecordID:  match.Record.ID,
				Score:     match.Score,
			}, nil
		}
		outcome = models.OutcomeStale
		e.logger.Debug("stale cache match",
			"record_id", match.Record.ID,
			"score", match.Score,
			"age", age,
			"max_age", maxAge)
	}

	payload, err := produce(ctx)
	if err != nil {
		e.metrics.captureError("produce")
		return models.CaptureResult{}, err
	}

	md := req.Metadata
	md.Prompt = req.Prompt
	id, err := e.store.Store(ctx, vectorstore.Entry{
		Vector:    vec,
		Payload:   payload,
		Metadata:  md,
		TTL:       maxAge,
		CreatedAt: e.now(),
	})
	if err != nil {
		e.metrics.captureError("store")
		return models.CaptureResult{}, fmt.Errorf("store result: %w", err)
	}

	if outcome == models.OutcomeStale {
		e.stale.Add(1)
	} else {
		e.misses.Add(1)
	}
	e.logger.Debug("cache miss stored",
		"record_id", id,
		"outcome", outcome,
		"ttl", maxAge,
		"tenant_id", md.TenantID)
	e.finish(ctx, req, outcome, bestScore, start)

	return models.CaptureResult{
		Payload:  payload,
		RecordID: id,
		Score:    bestScore,
	}, nil
}

// finish reports a completed capture to metrics and the recorder. Recorder
// failures are logged; they never fail the capture.
func (e *Engine) finish(ctx context.Context, req models.CaptureRequest, outcome models.CaptureOutcome, score float64, start time.Time) {
	latency := e.now().Sub(start)
	e.metrics.observeCapture(outcome, latency)
	if e.recorder == nil {
		return
	}
	err := e.recorder.RecordCapture(ctx, models.CaptureEvent{
		TenantID:  req.Metadata.TenantID,
		Provider:  req.Metadata.Provider,
		Model:     req.Metadata.Model,
		Outcome:   outcome,
		Score:     score,
		Latency:   latency,
		CreatedAt: start.UTC(),
	})
	if err != nil {
		e.logger.Warn("record capture outcome", "error", err, "outcome", outcome)
	}
}

// Suggest returns stored prompts similar to q.Text within q.TenantID, best
// first, ignoring freshness. It never writes.
func (e *Engine) Suggest(ctx context.Context, q models.SuggestQuery) ([]models.Suggestion, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = e.cfg.Suggest.Limit
	}
	minSimilarity := e.cfg.Suggest.MinSimilarity
	if q.MinSimilarity != nil {
		minSimilarity = *q.MinSimilarity
	}

	vec, err := e.embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	matches, err := e.store.Search(ctx, vec, vectorstore.SearchOptions{
		Limit:          limit,
		ScoreThreshold: minSimilarity,
		Filter:         vectorstore.NewFilter().WithTenant(q.TenantID),
	})
	if err != nil {
		return nil, fmt.Errorf("search suggestions: %w", err)
	}
	e.metrics.observeSuggest(len(matches))

	suggestions := make([]models.Suggestion, 0, len(matches))
	for _, m := range matches {
		suggestions = append(suggestions, models.Suggestion{
			ID:        m.Record.ID,
			Prompt:    m.Record.Metadata.Prompt,
			Payload:   m.Record.Payload,
			Score:     m.Score,
			CreatedAt: m.Record.CreatedAt,
			Metadata:  m.Record.Metadata,
		})
	}
	return suggestions, nil
}

// Sweep deletes records whose expiry is at or before now and returns how
// many were removed. Whether a failure matters is the caller's call.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := e.store.SweepExpired(ctx, now)
	if err != nil {
		e.metrics.sweepFailed()
		return 0, fmt.Errorf("sweep expired records: %w", err)
	}
	e.metrics.swept(n)
	return n, nil
}

// Stats returns the in-process hit/miss counters and the store size.
func (e *Engine) Stats(ctx context.Context) (models.CacheStats, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    e.hits.Load(),
		Misses:  e.misses.Load(),
		Stale:   e.stale.Load(),
	}, nil
}
