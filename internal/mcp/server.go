package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vmlinuzx/llmc-sub012/internal/graph"
	"github.com/vmlinuzx/llmc-sub012/internal/query"
	"github.com/vmlinuzx/llmc-sub012/internal/search"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

// ServerName identifies this implementation to MCP clients.
const ServerName = "llmc"

// Server bridges MCP clients to the query API.
type Server struct {
	mcp     *mcp.Server
	api     *query.API
	version string
}

// NewServer wires the tools onto a fresh MCP server.
func NewServer(api *query.API, version string) *Server {
	s := &Server{api: api, version: version}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	s.registerTools()
	return s
}

// SearchInput is the search tool's argument schema.
type SearchInput struct {
	Query string `json:"query" jsonschema:"natural language or code query"`
	Hint  string `json:"hint,omitempty" jsonschema:"index override: code or docs"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum results, default 20"`
}

// SearchOutput is the search tool's result schema.
type SearchOutput struct {
	Results   []search.Result `json:"results"`
	Profile   string          `json:"profile" jsonschema:"which index answered: code or docs"`
	Source    string          `json:"source" jsonschema:"retrieval channels that contributed: vector, lexical, graph, or hybrid"`
	Freshness string          `json:"freshness" jsonschema:"ready, stale, or unknown"`
}

// WhereUsedInput names a symbol to look up.
type WhereUsedInput struct {
	Symbol string `json:"symbol" jsonschema:"function, class, or method name"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum usage sites, default 50"`
}

// LineageInput asks for a dependency slice.
type LineageInput struct {
	Symbol    string `json:"symbol" jsonschema:"function, class, or method name"`
	Direction string `json:"direction,omitempty" jsonschema:"upstream (dependencies) or downstream (dependents), default downstream"`
	Depth     int    `json:"depth,omitempty" jsonschema:"hop limit, default 1"`
}

// EmptyInput is the schema for tools that take no arguments.
type EmptyInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search the indexed repository. Hybrid lexical, semantic, and call-graph retrieval over functions, classes, and docs; routes automatically between the code and docs indexes.",
	}, s.handleSearch)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "where_used",
		Description: "List the places that call, import, or otherwise reference a symbol.",
	}, s.handleWhereUsed)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "lineage",
		Description: "Walk the dependency graph from a symbol: what it depends on (upstream) or what depends on it (downstream).",
	}, s.handleLineage)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report the index lifecycle state and whether it is fresh relative to the working tree. Check this when search refuses.",
	}, s.handleIndexStatus)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "stats",
		Description: "Index-wide counters: files, spans, enrichments, embeddings, graph size, and pending work.",
	}, s.handleStats)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "health",
		Description: "Health snapshot with the files holding the most pending work and any recorded issues.",
	}, s.handleHealth)
	slog.Debug("mcp_tools_registered", slog.Int("count", 6))
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult, *SearchOutput, error,
) {
	start := time.Now()
	resp, err := s.api.Search(ctx, query.SearchRequest{
		Query: input.Query,
		Hint:  input.Hint,
		Limit: input.Limit,
	})
	if err != nil {
		return nil, nil, MapError(err)
	}
	slog.Info("mcp_search",
		slog.String("profile", resp.Profile),
		slog.String("source", resp.Source),
		slog.Int("results", len(resp.Results)),
		slog.Duration("duration", time.Since(start)))
	return nil, &SearchOutput{
		Results:   resp.Results,
		Profile:   resp.Profile,
		Source:    resp.Source,
		Freshness: string(resp.Freshness),
	}, nil
}

func (s *Server) handleWhereUsed(ctx context.Context, _ *mcp.CallToolRequest, input WhereUsedInput) (
	*mcp.CallToolResult, *query.WhereUsedResponse, error,
) {
	if input.Symbol == "" {
		return nil, nil, &ProtocolError{Code: ErrCodeInvalidParams, Message: "symbol is required"}
	}
	resp, err := s.api.WhereUsed(ctx, input.Symbol, input.Limit)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, resp, nil
}

func (s *Server) handleLineage(ctx context.Context, _ *mcp.CallToolRequest, input LineageInput) (
	*mcp.CallToolResult, *query.LineageResponse, error,
) {
	if input.Symbol == "" {
		return nil, nil, &ProtocolError{Code: ErrCodeInvalidParams, Message: "symbol is required"}
	}
	dir := graph.Downstream
	if input.Direction != "" {
		dir = graph.Direction(input.Direction)
	}
	resp, err := s.api.Lineage(ctx, input.Symbol, dir, input.Depth)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, resp, nil
}

func (s *Server) handleIndexStatus(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult, *query.StatusResponse, error,
) {
	resp, err := s.api.IndexStatus(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, resp, nil
}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult, *store.Stats, error,
) {
	stats, err := s.api.Stats(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, stats, nil
}

func (s *Server) handleHealth(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult, *store.Health, error,
) {
	h, err := s.api.Health(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, h, nil
}

// Serve runs the server over stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	slog.Info("mcp_server_started", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("mcp_server_stopped")
	return nil
}
