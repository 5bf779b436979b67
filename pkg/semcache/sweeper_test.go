package semcache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/simcache/pkg/config"
	"github.com/pario-ai/simcache/pkg/embedding"
)

// syncBuffer is a bytes.Buffer safe for a logger goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func bufferLogger(buf *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// sweepStore is a stubStore whose SweepExpired is scripted.
type sweepStore struct {
	stubStore
	calls atomic.Int64
	sweep func(ctx context.Context, call int64) (int, error)
}

func (s *sweepStore) SweepExpired(ctx context.Context, _ time.Time) (int, error) {
	return s.sweep(ctx, s.calls.Add(1))
}

func TestSweeper_Run(t *testing.T) {
	env := newTestEnv(t)
	env.capture(t, france, "", &countingProducer{payload: "Paris"})
	env.clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(env.engine, 10*time.Millisecond).Run(ctx) }()

	assert.Eventually(t, func() bool {
		n, err := env.store.Count(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestSweeper_KeepsGoingAfterFailures(t *testing.T) {
	const failures = 3
	st := &sweepStore{sweep: func(_ context.Context, call int64) (int, error) {
		if call <= failures {
			return 0, errors.New("store offline")
		}
		return 2, nil
	}}
	var logs syncBuffer
	e := New(config.Default(), embedding.NewHasher(8), st, WithLogger(bufferLogger(&logs)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewSweeper(e, 5*time.Millisecond).Run(ctx) }()

	require.Eventually(t, func() bool {
		return st.calls.Load() >= failures+2
	}, 2*time.Second, 5*time.Millisecond, "the loop must keep ticking past failed sweeps")

	select {
	case err := <-done:
		t.Fatalf("sweeper returned early: %v", err)
	default:
	}

	out := logs.String()
	assert.Equal(t, failures, strings.Count(out, `msg="expiry sweep failed"`))
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "store offline")
	assert.Contains(t, out, "removed=2")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestSweeper_CancelDuringFailingSweepIsSilent(t *testing.T) {
	started := make(chan struct{})
	st := &sweepStore{sweep: func(ctx context.Context, call int64) (int, error) {
		if call == 1 {
			close(started)
		}
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	var logs syncBuffer
	e := New(config.Default(), embedding.NewHasher(8), st, WithLogger(bufferLogger(&logs)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(e, time.Hour).Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("initial sweep never ran")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	assert.NotContains(t, logs.String(), "level=ERROR")
	assert.EqualValues(t, 1, st.calls.Load())
}
