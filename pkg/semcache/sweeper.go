package semcache

import (
	"context"
	"time"
)

// Sweeper runs Engine.Sweep on a fixed interval. Sweep failures are logged
// and the loop keeps going.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper returns a sweeper for e. A non-positive interval defaults to five minutes.
func NewSweeper(e *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{engine: e, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.engine.Sweep(ctx, s.engine.now())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.engine.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.engine.logger.Info("expiry sweep", "removed", n)
	}
}
