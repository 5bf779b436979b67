package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Embedding provider selections.
const (
	ProviderLocal  = "local"
	ProviderRemote = "remote"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all simcache configuration. It is built once at startup
// and passed explicitly; nothing mutates it afterwards.
type Config struct {
	CollectionName string           `yaml:"collection_name"`
	Embedding      EmbeddingConfig  `yaml:"embedding"`
	Cache          CacheConfig      `yaml:"cache"`
	Suggest        SuggestConfig    `yaml:"suggest"`
	Store          StoreConfig      `yaml:"store"`
	Sweep          SweepConfig      `yaml:"sweep"`
	Tracker        TrackerConfig    `yaml:"tracker"`
	Metrics        MetricsConfig    `yaml:"metrics"`
	Providers      []ProviderConfig `yaml:"providers"`
	Routes         []RouteConfig    `yaml:"routes"`
}

// EmbeddingConfig selects and configures the embedding provider.
// Provider is "local" (hashing, default) or "remote" (OpenAI-compatible API).
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Dimensions int    `yaml:"dimensions"`
}

// CacheConfig holds the capture defaults. A zero DefaultTTL disables both
// freshness gating and record expiry.
type CacheConfig struct {
	DefaultTTL          time.Duration `yaml:"default_ttl"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
}

// SuggestConfig holds the relaxed typeahead defaults.
type SuggestConfig struct {
	Limit         int     `yaml:"limit"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

// StoreConfig points at the vector store backend.
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SweepConfig controls the background expiry sweep.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// TrackerConfig controls the capture outcome ledger.
type TrackerConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// MetricsConfig controls the prometheus endpoint served by `simcache serve`.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// ProviderConfig defines an upstream OpenAI-compatible LLM provider.
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// RouteConfig maps a client-facing model alias to an ordered list of targets.
type RouteConfig struct {
	Model   string        `yaml:"model"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		CollectionName: "llm_cache",
		Embedding: EmbeddingConfig{
			Provider:   ProviderLocal,
			Dimensions: 256,
		},
		Cache: CacheConfig{
			DefaultTTL:          time.Hour,
			SimilarityThreshold: 0.85,
		},
		Suggest: SuggestConfig{
			Limit:         5,
			MinSimilarity: 0.7,
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "simcache.db",
			Addr:    "localhost:6379",
		},
		Sweep: SweepConfig{
			Interval: 5 * time.Minute,
		},
		Tracker: TrackerConfig{
			Enabled: true,
			DBPath:  "simcache.db",
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
	}
}

// Load reads a YAML config file, expands environment variables and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and provider-specific requirements.
func (c *Config) Validate() error {
	if c.CollectionName == "" {
		return errors.New("collection_name is required")
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold %v out of range [0,1]", c.Cache.SimilarityThreshold)
	}
	if c.Cache.DefaultTTL < 0 {
		return fmt.Errorf("cache.default_ttl must not be negative, got %v", c.Cache.DefaultTTL)
	}
	if c.Suggest.MinSimilarity < 0 || c.Suggest.MinSimilarity > 1 {
		return fmt.Errorf("suggest.min_similarity %v out of range [0,1]", c.Suggest.MinSimilarity)
	}
	if c.Suggest.Limit <= 0 {
		return fmt.Errorf("suggest.limit must be positive, got %d", c.Suggest.Limit)
	}

	switch c.Embedding.Provider {
	case ProviderLocal:
		if c.Embedding.Dimensions <= 0 {
			return fmt.Errorf("embedding.dimensions must be positive for the local provider, got %d", c.Embedding.Dimensions)
		}
	case ProviderRemote:
		// Credentials are checked by embedding.New so the error carries the provider context.
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Store.Addr == "" {
			return errors.New("store.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}
