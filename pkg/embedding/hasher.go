package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// Hasher is a pure, deterministic embedder based on feature hashing.
//
// Each whitespace-separated, lowercased token is hashed with FNV-1a into one
// of D buckets and counted; the counts are then L2 normalised. The dot
// product of two outputs is the cosine similarity of their hashed
// bag-of-words. Collisions between distinct tokens reduce discrimination
// but never determinism.
type Hasher struct {
	dimensions int
}

// NewHasher returns a Hasher producing vectors of length dimensions.
// It panics if dimensions is not positive.
func NewHasher(dimensions int) *Hasher {
	if dimensions <= 0 {
		panic(fmt.Sprintf("embedding: hasher dimensions must be positive, got %d", dimensions))
	}
	return &Hasher{dimensions: dimensions}
}

// Embed returns the normalised hashed term-frequency vector for text.
// Text without tokens yields the zero vector.
func (h *Hasher) Embed(_ context.Context, text string) ([]float32, error) {
	return h.Vector(text), nil
}

// Vector is Embed without the context and error plumbing.
func (h *Hasher) Vector(text string) []float32 {
	acc := make([]float64, h.dimensions)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		acc[h.bucket(token)]++
	}

	var sumSquares float64
	for _, v := range acc {
		sumSquares += v * v
	}

	vec := make([]float32, h.dimensions)
	if sumSquares == 0 {
		return vec
	}
	norm := math.Sqrt(sumSquares)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

// Dimensions returns D.
func (h *Hasher) Dimensions() int {
	return h.dimensions
}

// Model returns the model identifier.
func (h *Hasher) Model() string {
	return fmt.Sprintf("fnv-hash-%d", h.dimensions)
}

func (h *Hasher) bucket(token string) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(token))
	return int(f.Sum32() % uint32(h.dimensions))
}
