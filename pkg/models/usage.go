package models

import "time"

// CaptureOutcome classifies how a capture was resolved.
type CaptureOutcome string

const (
	OutcomeHit   CaptureOutcome = "hit"
	OutcomeMiss  CaptureOutcome = "miss"
	OutcomeStale CaptureOutcome = "stale"
)

// CaptureEvent records the outcome of one capture.
type CaptureEvent struct {
	ID        int64          `json:"id"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Outcome   CaptureOutcome `json:"outcome"`
	Score     float64        `json:"score"`
	Latency   time.Duration  `json:"latency"`
	CreatedAt time.Time      `json:"created_at"`
}

// CaptureSummary aggregates capture outcomes for a tenant and model.
type CaptureSummary struct {
	TenantID string `json:"tenant_id"`
	Model    string `json:"model"`
	Requests int    `json:"requests"`
	Hits     int    `json:"hits"`
	Misses   int    `json:"misses"`
	Stale    int    `json:"stale"`
}

// HitRate returns hits over requests, or 0 with no requests.
func (s CaptureSummary) HitRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Requests)
}
