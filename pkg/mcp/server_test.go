package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/simcache/pkg/models"
)

// fakeCache implements Cache for testing.
type fakeCache struct {
	suggestions []models.Suggestion
	stats       models.CacheStats
	swept       int
	err         error
	lastQuery   models.SuggestQuery
}

func (f *fakeCache) Suggest(_ context.Context, q models.SuggestQuery) ([]models.Suggestion, error) {
	f.lastQuery = q
	return f.suggestions, f.err
}
func (f *fakeCache) Stats(_ context.Context) (models.CacheStats, error) { return f.stats, f.err }
func (f *fakeCache) Sweep(_ context.Context, _ time.Time) (int, error)  { return f.swept, f.err }

// fakeSummarizer implements Summarizer for testing.
type fakeSummarizer struct {
	rows       []models.CaptureSummary
	lastTenant string
}

func (f *fakeSummarizer) Summary(_ context.Context, tenantID string) ([]models.CaptureSummary, error) {
	f.lastTenant = tenantID
	return f.rows, nil
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(&fakeCache{}, nil, nil, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	_ = json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "simcache" || result.ServerInfo.Version != "test" {
		t.Errorf("unexpected server info: %+v", result.ServerInfo)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(&fakeCache{}, nil, nil, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	_ = json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("listed tool %s has no handler", tool.Name)
		}
	}
}

func TestToolCallSuggest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := &fakeCache{suggestions: []models.Suggestion{
		{ID: "r1", Prompt: "what is the capital of france", Score: 0.97, CreatedAt: now.Add(-time.Minute), Metadata: models.Metadata{Model: "gpt-4o"}},
	}}
	srv := New(cache, nil, nil, "test")
	srv.now = func() time.Time { return now }

	result := callTool(t, srv, "simcache_suggest", `{"text":"capital of fr","tenant_id":"acme","limit":3,"min_similarity":0.5}`)

	text := result.Content[0].Text
	if !strings.Contains(text, "capital of france") || !strings.Contains(text, "0.970") || !strings.Contains(text, "1m0s") {
		t.Errorf("unexpected suggest output: %s", text)
	}
	q := cache.lastQuery
	if q.TenantID != "acme" || q.Limit != 3 || q.MinSimilarity == nil || *q.MinSimilarity != 0.5 {
		t.Errorf("unexpected query: %+v", q)
	}
}

func TestToolCallSuggestValidation(t *testing.T) {
	srv := New(&fakeCache{}, nil, nil, "test")

	for _, args := range []string{`{}`, `{"text":"x","min_similarity":1.5}`, `{"text":1}`} {
		result := callTool(t, srv, "simcache_suggest", args)
		if !result.IsError {
			t.Errorf("expected isError for args %s", args)
		}
	}
}

func TestToolCallSuggestEmpty(t *testing.T) {
	srv := New(&fakeCache{}, nil, nil, "test")
	result := callTool(t, srv, "simcache_suggest", `{"text":"anything"}`)
	if result.Content[0].Text != "No suggestions found." {
		t.Errorf("unexpected output: %s", result.Content[0].Text)
	}
}

func TestToolCallCacheStats(t *testing.T) {
	cache := &fakeCache{stats: models.CacheStats{Entries: 42, Hits: 10, Misses: 4, Stale: 1}}
	srv := New(cache, nil, nil, "test")

	text := callTool(t, srv, "simcache_cache_stats", "").Content[0].Text
	if !strings.Contains(text, "42") || !strings.Contains(text, "66.7%") {
		t.Errorf("unexpected cache stats output: %s", text)
	}
}

func TestToolCallStoreError(t *testing.T) {
	srv := New(&fakeCache{err: errors.New("redis down")}, nil, nil, "test")

	result := callTool(t, srv, "simcache_cache_stats", "")
	if !result.IsError || !strings.Contains(result.Content[0].Text, "redis down") {
		t.Errorf("expected error result, got %+v", result)
	}
}

func TestToolCallHitRates(t *testing.T) {
	srv := New(&fakeCache{}, nil, nil, "test")
	result := callTool(t, srv, "simcache_hit_rates", `{}`)
	if !strings.Contains(result.Content[0].Text, "not configured") {
		t.Errorf("expected 'not configured', got: %s", result.Content[0].Text)
	}

	sum := &fakeSummarizer{rows: []models.CaptureSummary{
		{TenantID: "acme", Model: "gpt-4o", Requests: 4, Hits: 3, Misses: 1},
	}}
	srv = New(&fakeCache{}, sum, nil, "test")
	text := callTool(t, srv, "simcache_hit_rates", `{"tenant_id":"acme"}`).Content[0].Text
	if !strings.Contains(text, "gpt-4o") || !strings.Contains(text, "75.0%") {
		t.Errorf("unexpected hit rate output: %s", text)
	}
	if sum.lastTenant != "acme" {
		t.Errorf("tenant filter = %q, want acme", sum.lastTenant)
	}
}

func TestToolCallSweep(t *testing.T) {
	srv := New(&fakeCache{swept: 3}, nil, nil, "test")
	text := callTool(t, srv, "simcache_sweep", "").Content[0].Text
	if text != "Removed 3 expired records." {
		t.Errorf("unexpected sweep output: %s", text)
	}
}

func TestUnknownTool(t *testing.T) {
	srv := New(&fakeCache{}, nil, nil, "test")
	result := callTool(t, srv, "nope", "")
	if !result.IsError {
		t.Error("expected isError for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := New(&fakeCache{}, nil, nil, "test")

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestParseError(t *testing.T) {
	srv := New(&fakeCache{}, nil, nil, "test")

	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(&fakeCache{}, nil, nil, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}
