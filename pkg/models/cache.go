package models

import "time"

// Metadata is the closed scoping schema attached to every cached record.
// Empty strings mean "not set".
type Metadata struct {
	// Provider is the provider the caller addressed (the primary route),
	// not necessarily the fallback that produced the payload.
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
	UserID   string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	// Prompt is the original request text, kept for display and recovery.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// Record is a persisted cache entry. Records are never mutated after creation.
type Record struct {
	ID        string     `json:"id"`
	Vector    []float32  `json:"-"`
	Payload   []byte     `json:"payload"`
	Metadata  Metadata   `json:"metadata"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the record has an expiry at or before now.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Policy overrides the engine defaults for a single capture.
// A nil field falls back to the configured default.
type Policy struct {
	MaxAge        *time.Duration `json:"max_age,omitempty"`
	MinSimilarity *float64       `json:"min_similarity,omitempty"`
}

// CaptureRequest is the input to a cache capture.
type CaptureRequest struct {
	Prompt   string   `json:"prompt"`
	Metadata Metadata `json:"metadata"`
	Policy   Policy   `json:"policy,omitempty"`
}

// CaptureResult is what a capture hands back to the caller.
type CaptureResult struct {
	Payload   []byte  `json:"payload"`
	Cached    bool    `json:"cached"`
	CostSaved bool    `json:"cost_saved"`
	RecordID  string  `json:"record_id,omitempty"`
	Score     float64 `json:"score,omitempty"`
}

// SuggestQuery is a read-only typeahead lookup.
type SuggestQuery struct {
	Text          string   `json:"text"`
	TenantID      string   `json:"tenant_id,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
}

// Suggestion is one ranked typeahead result.
type Suggestion struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  Metadata  `json:"metadata"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Stale   int64 `json:"stale"`
}
