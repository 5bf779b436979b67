package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pario-ai/simcache/pkg/config"
	"github.com/pario-ai/simcache/pkg/embedding"
	"github.com/pario-ai/simcache/pkg/semcache"
	"github.com/pario-ai/simcache/pkg/tracker"
	"github.com/pario-ai/simcache/pkg/vectorstore"
	"github.com/pario-ai/simcache/pkg/vectorstore/redis"
	"github.com/pario-ai/simcache/pkg/vectorstore/sqlite"
)

// app bundles the components a command needs.
type app struct {
	cfg     *config.Config
	store   vectorstore.Store
	tracker *tracker.SQLiteTracker
	engine  *semcache.Engine
}

// loadConfig reads the config file. When the file is absent and --config
// was not given explicitly, defaults are used.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		slog.Debug("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func openStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		return redis.New(ctx, redis.Options{
			Addr:       cfg.Store.Addr,
			Password:   cfg.Store.Password,
			DB:         cfg.Store.DB,
			Collection: cfg.CollectionName,
		})
	default:
		return sqlite.New(cfg.Store.Path, cfg.CollectionName)
	}
}

// openApp wires the embedder, store, tracker and engine, then initialises
// the engine. reg may be nil to skip metrics.
func openApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	a := &app{cfg: cfg, store: store}
	opts := []semcache.Option{semcache.WithLogger(slog.Default())}

	if cfg.Tracker.Enabled {
		tr, err := tracker.New(cfg.Tracker.DBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init tracker: %w", err)
		}
		a.tracker = tr
		opts = append(opts, semcache.WithRecorder(tr))
	}

	if reg != nil {
		m, err := semcache.NewMetrics(reg, cfg.CollectionName)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		opts = append(opts, semcache.WithMetrics(m))
	}

	a.engine = semcache.New(cfg, embedder, store, opts...)
	if err := a.engine.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}
	return a, nil
}

func (a *app) Close() {
	if a.tracker != nil {
		_ = a.tracker.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
