package mcp

import (
	"context"
	"encoding/json"

	"github.com/pario-ai/simcache/pkg/models"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"simcache_suggest":     handleSuggest,
	"simcache_cache_stats": handleCacheStats,
	"simcache_hit_rates":   handleHitRates,
	"simcache_sweep":       handleSweep,
}

var tenantProperty = map[string]any{
	"type":        "string",
	"description": "Tenant namespace (optional, omit for records stored without a tenant)",
}

var allTools = []ToolDefinition{
	{
		Name:        "simcache_suggest",
		Description: "Find previously cached prompts similar to a partial query, best match first.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Query text",
				},
				"tenant_id": tenantProperty,
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum suggestions (optional, default from config)",
				},
				"min_similarity": map[string]any{
					"type":        "number",
					"description": "Minimum cosine similarity 0..1 (optional, default from config)",
				},
			},
		},
	},
	{
		Name:        "simcache_cache_stats",
		Description: "Show cache size and this process's hit, miss and stale counts.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "simcache_hit_rates",
		Description: "Show recorded capture outcomes and hit rates per tenant and model.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tenant_id": map[string]any{
					"type":        "string",
					"description": "Filter by tenant (optional, omit for all tenants)",
				},
			},
		},
	},
	{
		Name:        "simcache_sweep",
		Description: "Delete cache records whose expiry has passed.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

type suggestArgs struct {
	Text          string   `json:"text"`
	TenantID      string   `json:"tenant_id"`
	Limit         int      `json:"limit"`
	MinSimilarity *float64 `json:"min_similarity"`
}

func handleSuggest(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args suggestArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	if args.Text == "" {
		return errorResult("text is required")
	}
	if args.MinSimilarity != nil && (*args.MinSimilarity < 0 || *args.MinSimilarity > 1) {
		return errorResult("min_similarity must be between 0 and 1")
	}

	suggestions, err := s.cache.Suggest(ctx, models.SuggestQuery{
		Text:          args.Text,
		TenantID:      args.TenantID,
		Limit:         args.Limit,
		MinSimilarity: args.MinSimilarity,
	})
	if err != nil {
		return errorResult("Error fetching suggestions: " + err.Error())
	}
	return textResult(formatSuggestions(suggestions, s.now()))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

type tenantArgs struct {
	TenantID string `json:"tenant_id"`
}

func handleHitRates(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.summary == nil {
		return textResult("Capture tracking is not configured.")
	}
	var args tenantArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	rows, err := s.summary.Summary(ctx, args.TenantID)
	if err != nil {
		return errorResult("Error fetching hit rates: " + err.Error())
	}
	return textResult(formatSummaries(rows))
}

func handleSweep(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	n, err := s.cache.Sweep(ctx, s.now())
	if err != nil {
		return errorResult("Error sweeping expired records: " + err.Error())
	}
	return textResult(formatSweep(n))
}
