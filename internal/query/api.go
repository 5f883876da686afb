// Package query is the read API shared by the CLI and the MCP tools:
// hybrid search with routing and freshness labeling, graph questions,
// and index introspection. Every error that leaves this package is a
// structured one with a stable code and, where it helps, a remediation
// hint.
package query

import (
	"context"
	"strings"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	"github.com/vmlinuzx/llmc-sub012/internal/embed"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/graph"
	"github.com/vmlinuzx/llmc-sub012/internal/route"
	"github.com/vmlinuzx/llmc-sub012/internal/search"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

// API bundles the retrieval stack behind one facade.
type API struct {
	store     *store.Store
	searcher  *search.Searcher
	router    *route.Router
	gate      *route.FreshnessGate
	traverser *graph.Traverser
}

// New wires the API from an open store and configuration.
func New(st *store.Store, repoRoot string, cfg *config.Config) (*API, error) {
	lex, err := store.NewLexicalIndex(lexBackend(cfg.Search.LexicalBackend), st)
	if err != nil {
		return nil, err
	}
	embedders := make(map[string]embed.Embedder, len(cfg.Embeddings.Profiles))
	for name, p := range cfg.Embeddings.Profiles {
		e, err := embed.NewEmbedder(p, cfg.Embeddings.OllamaHost)
		if err != nil {
			return nil, err
		}
		embedders[name] = e
	}
	router, err := route.NewRouter(cfg.Routing, cfg.Enrichment.StartTier, cfg.Search.RerankEnabled)
	if err != nil {
		return nil, err
	}
	return &API{
		store:     st,
		searcher:  search.NewSearcher(st, lex, embedders, cfg.Search),
		router:    router,
		gate:      route.NewFreshnessGate(st, repoRoot, cfg.Search.StaleRefuse),
		traverser: graph.NewTraverser(st),
	}, nil
}

// lexBackend maps the config name onto the store's backend name; the
// config calls the FTS5 backend "sqlite".
func lexBackend(name string) string {
	if name == "sqlite" || name == "" {
		return "fts5"
	}
	return name
}

// NewFromParts wires the API from pre-built components; tests and the
// daemon use this.
func NewFromParts(st *store.Store, searcher *search.Searcher, router *route.Router,
	gate *route.FreshnessGate) *API {
	return &API{
		store:     st,
		searcher:  searcher,
		router:    router,
		gate:      gate,
		traverser: graph.NewTraverser(st),
	}
}

// SearchRequest parameterizes one search call.
type SearchRequest struct {
	Query   string `json:"query"`
	Hint    string `json:"hint,omitempty"` // profile override from tool context
	Limit   int    `json:"limit,omitempty"`
	Explain bool   `json:"explain,omitempty"`
}

// SearchResponse is one answered search. Source names the retrieval
// channels that contributed: vector, lexical, graph, or hybrid.
type SearchResponse struct {
	Results   []search.Result `json:"results"`
	Profile   string          `json:"profile"`
	Source    string          `json:"source,omitempty"`
	Freshness route.Freshness `json:"freshness"`
	Decision  *route.Decision `json:"decision,omitempty"`
}

// Search routes the query, checks freshness, and runs hybrid
// retrieval.
func (a *API) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, llmcerr.New(llmcerr.KindConfigInvalid, "query must not be empty")
	}
	fresh, err := a.gate.Check(ctx)
	if err != nil {
		return nil, err
	}

	decision := a.router.Route(req.Query, req.Hint)
	results, err := a.searcher.Search(ctx, req.Query, decision.Profile, req.Limit)
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{
		Results:   results,
		Profile:   decision.Profile,
		Source:    search.RetrievalSource(results),
		Freshness: fresh,
	}
	if req.Explain {
		explained := a.router.Explain(req.Query, req.Hint)
		resp.Decision = &explained
	}
	return resp, nil
}

// WhereUsedResponse lists direct references to a symbol.
type WhereUsedResponse struct {
	Symbol    store.Entity    `json:"symbol"`
	Usages    []graph.Node    `json:"usages"`
	Freshness route.Freshness `json:"freshness"`
}

// WhereUsed finds the symbol and its inbound references.
func (a *API) WhereUsed(ctx context.Context, symbol string, limit int) (*WhereUsedResponse, error) {
	fresh, err := a.gate.Check(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	ent, err := a.traverser.FindSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, symbolNotFound(symbol)
	}
	usages, err := a.traverser.WhereUsed(ctx, ent.ID, limit)
	if err != nil {
		return nil, err
	}
	return &WhereUsedResponse{Symbol: *ent, Usages: usages, Freshness: fresh}, nil
}

// LineageResponse is a directional dependency slice around a symbol.
type LineageResponse struct {
	Slice     *graph.Slice    `json:"slice"`
	Direction graph.Direction `json:"direction"`
	Depth     int             `json:"depth"`
	Freshness route.Freshness `json:"freshness"`
}

// Lineage walks the graph from a symbol in one direction.
func (a *API) Lineage(ctx context.Context, symbol string, dir graph.Direction, depth int) (*LineageResponse, error) {
	fresh, err := a.gate.Check(ctx)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 1
	}
	ent, err := a.traverser.FindSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, symbolNotFound(symbol)
	}
	slice, err := a.traverser.Lineage(ctx, ent.ID, dir, depth)
	if err != nil {
		return nil, err
	}
	return &LineageResponse{Slice: slice, Direction: dir, Depth: depth, Freshness: fresh}, nil
}

// Stats returns the index-wide counters.
func (a *API) Stats(ctx context.Context) (*store.Stats, error) {
	return a.store.Stats(ctx)
}

// Health returns the health snapshot.
func (a *API) Health(ctx context.Context) (*store.Health, error) {
	return a.store.HealthCheck(ctx)
}

// StatusResponse is the index status plus its freshness relative to
// the working tree.
type StatusResponse struct {
	Status    *store.IndexStatus `json:"status"`
	Freshness route.Freshness    `json:"freshness"`
}

// IndexStatus reports the index lifecycle state. Unlike Search it
// never refuses: status must be observable even when the index is
// empty or stale.
func (a *API) IndexStatus(ctx context.Context) (*StatusResponse, error) {
	status, err := a.store.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	fresh, err := a.gate.Check(ctx)
	if err != nil {
		// Empty and errored indexes still report their status.
		fresh = route.FreshnessUnknown
	}
	return &StatusResponse{Status: status, Freshness: fresh}, nil
}

func symbolNotFound(symbol string) error {
	return llmcerr.Newf(llmcerr.KindNotFound, "symbol %q is not in the index", symbol).
		WithRemediation("check the spelling, or run llmc index if the file is new")
}
