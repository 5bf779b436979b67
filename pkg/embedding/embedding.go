// Package embedding turns text into fixed-length vectors for similarity search.
//
// Two providers exist: Hasher, a deterministic bag-of-words feature hasher
// with no external I/O, and OpenAI, a pass-through to any OpenAI-compatible
// embeddings endpoint. Both return vectors of a fixed length for a fixed
// configuration.
package embedding

import (
	"context"
	"fmt"

	"github.com/pario-ai/simcache/pkg/config"
)

// Provider generates embeddings.
type Provider interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model identifies the embedding model, for logs and metrics.
	Model() string
}

// dimensionText is embedded once at startup to learn the provider's dimension.
const dimensionText = "simcache dimension check"

// ConfigurationError reports a provider selection that cannot be built,
// typically a missing credential.
type ConfigurationError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("embedding provider %q: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("embedding provider %q: %s %s", e.Provider, e.Field, e.Reason)
}

// New builds the provider selected by cfg.
func New(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderLocal, "":
		if cfg.Dimensions <= 0 {
			return nil, &ConfigurationError{Provider: config.ProviderLocal, Field: "dimensions", Reason: "must be positive"}
		}
		return NewHasher(cfg.Dimensions), nil
	case config.ProviderRemote:
		return NewOpenAI(cfg)
	default:
		return nil, &ConfigurationError{Provider: cfg.Provider, Reason: "unsupported provider"}
	}
}

// DetectDimension embeds a fixed text once and returns the vector length. The result
// is the dimension used to initialise the vector store collection.
func DetectDimension(ctx context.Context, p Provider) (int, error) {
	vec, err := p.Embed(ctx, dimensionText)
	if err != nil {
		return 0, fmt.Errorf("detect embedding dimension: %w", err)
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("detect embedding dimension: provider %s returned an empty vector", p.Model())
	}
	return len(vec), nil
}
