// Package mcp exposes the cache's read-side operations as Model Context
// Protocol tools over line-delimited JSON-RPC on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pario-ai/simcache/pkg/models"
)

// Cache is the subset of the engine the tools call.
type Cache interface {
	Suggest(ctx context.Context, q models.SuggestQuery) ([]models.Suggestion, error)
	Stats(ctx context.Context) (models.CacheStats, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Summarizer reports capture outcomes per tenant and model.
type Summarizer interface {
	Summary(ctx context.Context, tenantID string) ([]models.CaptureSummary, error)
}

// Server is a minimal MCP server.
type Server struct {
	cache   Cache
	summary Summarizer
	logger  *slog.Logger
	version string
	now     func() time.Time
}

// New creates a Server. summary may be nil when capture tracking is off.
func New(cache Cache, summary Summarizer, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cache:   cache,
		summary: summary,
		logger:  logger,
		version: version,
		now:     time.Now,
	}
}

// Run reads JSON-RPC requests from r line by line and writes responses to w.
// It blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, Response{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	var (
		result any
		rpcErr *RPCError
	)
	switch req.Method {
	case "initialize":
		result = InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "simcache", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		result = ToolsListResult{Tools: allTools}
	case "tools/call":
		result, rpcErr = s.callTool(ctx, req.Params)
	default:
		rpcErr = &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)}
	}

	if rpcErr != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var params ToolCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "invalid params"}
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool: %s", params.Name)), nil
	}
	s.logger.Debug("mcp tool call", "tool", params.Name)
	return handler(ctx, s, params.Arguments), nil
}

func (s *Server) write(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp: marshal response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("mcp: write response", "error", err)
	}
}
