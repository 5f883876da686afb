// Package search runs hybrid retrieval: vector similarity, lexical
// match, and symbol-graph proximity fused into one ranked result list,
// deduplicated by span hash.
package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	"github.com/vmlinuzx/llmc-sub012/internal/embed"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/graph"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

const (
	// DefaultTopK is the per-channel candidate depth.
	DefaultTopK  = 20
	snippetLines = 3
)

// Result is one ranked hit.
type Result struct {
	SpanHash      string  `json:"span_hash"`
	Path          string  `json:"path"`
	Symbol        string  `json:"symbol,omitempty"`
	Kind          string  `json:"kind"`
	StartLine     int     `json:"start_line"`
	EndLine       int     `json:"end_line"`
	Score         float64 `json:"score"`
	VectorScore   float64 `json:"vector_score,omitempty"`
	LexicalScore  float64 `json:"lexical_score,omitempty"`
	GraphDistance int     `json:"graph_distance"` // -1 when unreachable
	Summary       string  `json:"summary,omitempty"`
	Snippet       string  `json:"snippet,omitempty"`
}

// RetrievalSource names the channels that produced a result set:
// "vector", "lexical", or "graph" when a single channel contributed,
// "hybrid" when more than one did, empty when there are no results.
func RetrievalSource(results []Result) string {
	var vector, lexical, graphHit bool
	for _, r := range results {
		vector = vector || r.VectorScore > 0
		lexical = lexical || r.LexicalScore > 0
		graphHit = graphHit || r.GraphDistance >= 0
	}
	var names []string
	if vector {
		names = append(names, "vector")
	}
	if lexical {
		names = append(names, "lexical")
	}
	if graphHit {
		names = append(names, "graph")
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return "hybrid"
	}
}

// Reranker reorders fused results. Optional; wire one for queries
// where precision beats latency.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []Result) ([]Result, error)
}

// Searcher fuses the three retrieval channels.
type Searcher struct {
	store     *store.Store
	lexical   store.LexicalIndex
	embedders map[string]embed.Embedder
	traverser *graph.Traverser
	reranker  Reranker

	topK          int
	vectorWeight  float64
	lexicalWeight float64
	graphWeight   float64
	hopThreshold  int

	annMu sync.Mutex
	ann   map[string]*store.ANNIndex
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithReranker wires a reranker.
func WithReranker(r Reranker) SearcherOption {
	return func(s *Searcher) { s.reranker = r }
}

// NewSearcher wires the channels. embedders maps profile names to
// their providers; a profile without one searches lexically only.
func NewSearcher(st *store.Store, lex store.LexicalIndex, embedders map[string]embed.Embedder,
	cfg config.SearchConfig, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		store:         st,
		lexical:       lex,
		embedders:     embedders,
		traverser:     graph.NewTraverser(st),
		topK:          cfg.TopK,
		vectorWeight:  cfg.VectorWeight,
		lexicalWeight: cfg.LexicalWeight,
		graphWeight:   cfg.GraphWeight,
		hopThreshold:  cfg.GraphHopThreshold,
	}
	if s.topK <= 0 {
		s.topK = DefaultTopK
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// candidate accumulates per-channel scores for one span hash.
type candidate struct {
	vector   float64
	lexical  float64
	graphDst int
}

// Search runs all channels for a query against one profile and fuses
// the hits. k caps the returned results; zero means the configured
// top-k.
func (s *Searcher) Search(ctx context.Context, query, profile string, k int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, llmcerr.New(llmcerr.KindInternal, "empty query")
	}
	if k <= 0 {
		k = s.topK
	}

	candidates := make(map[string]*candidate)
	ensure := func(hash string) *candidate {
		c, ok := candidates[hash]
		if !ok {
			c = &candidate{graphDst: -1}
			candidates[hash] = c
		}
		return c
	}

	if err := s.vectorChannel(ctx, query, profile, ensure); err != nil {
		return nil, err
	}
	if err := s.lexicalChannel(ctx, query, ensure); err != nil {
		return nil, err
	}
	if err := s.graphChannel(ctx, query, ensure); err != nil {
		return nil, err
	}

	results, err := s.fuse(ctx, candidates, k)
	if err != nil {
		return nil, err
	}
	if s.reranker != nil {
		return s.reranker.Rerank(ctx, query, results)
	}
	return results, nil
}

func (s *Searcher) vectorChannel(ctx context.Context, query, profile string, ensure func(string) *candidate) error {
	emb, ok := s.embedders[profile]
	if !ok || s.vectorWeight <= 0 {
		return nil
	}
	vecs, err := emb.Embed(ctx, []string{query})
	if err != nil {
		if llmcerr.IsCancelled(err) {
			return err
		}
		// A dead embedding host degrades to lexical-and-graph search
		// instead of failing the query.
		return nil
	}
	hits, err := s.vectorHits(ctx, profile, vecs[0])
	if err != nil {
		return err
	}
	for _, h := range hits {
		// Cosine to [0,1] so the fusion weights mean the same across
		// channels.
		ensure(h.SpanHash).vector = (h.Score + 1) / 2
	}
	return nil
}

// vectorHits picks the scan strategy by profile size: an exhaustive
// scan under the brute-force cap, the HNSW index above it.
func (s *Searcher) vectorHits(ctx context.Context, profile string, query []float32) ([]store.VectorResult, error) {
	stored, err := s.store.EmbeddingCount(ctx, profile)
	if err != nil {
		return nil, err
	}
	if stored <= store.BruteForceCap {
		return s.store.SearchVector(ctx, profile, query, s.topK, nil)
	}
	idx, err := s.annIndex(ctx, profile, stored)
	if err != nil {
		return nil, err
	}
	return idx.Search(query, s.topK)
}

// annIndex returns the cached per-profile graph, rebuilding it when the
// stored vectors outgrow it. Deleted spans linger in the graph until a
// rebuild; fusion drops their hashes when the span lookup misses.
func (s *Searcher) annIndex(ctx context.Context, profile string, stored int) (*store.ANNIndex, error) {
	s.annMu.Lock()
	defer s.annMu.Unlock()
	if idx, ok := s.ann[profile]; ok && idx.Len() >= stored {
		return idx, nil
	}
	idx, err := s.store.NewANNIndex(ctx, profile)
	if err != nil {
		return nil, err
	}
	if s.ann == nil {
		s.ann = make(map[string]*store.ANNIndex)
	}
	s.ann[profile] = idx
	return idx, nil
}

func (s *Searcher) lexicalChannel(ctx context.Context, query string, ensure func(string) *candidate) error {
	if s.lexical == nil || s.lexicalWeight <= 0 {
		return nil
	}
	hits, err := s.lexical.Search(ctx, query, s.topK)
	if err != nil {
		return err
	}
	var maxScore float64
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	for _, h := range hits {
		score := 1.0
		if maxScore > 0 {
			score = h.Score / maxScore
		}
		ensure(h.SpanHash).lexical = score
	}
	return nil
}

func (s *Searcher) fuse(ctx context.Context, candidates map[string]*candidate, k int) ([]Result, error) {
	results := make([]Result, 0, len(candidates))
	for hash, c := range candidates {
		span, path, err := s.store.SpanByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if span == nil {
			continue
		}
		score := s.vectorWeight*c.vector + s.lexicalWeight*c.lexical
		if c.graphDst >= 0 {
			score += s.graphWeight / float64(1+c.graphDst)
		}
		results = append(results, Result{
			SpanHash:      hash,
			Path:          path,
			Symbol:        span.SymbolName,
			Kind:          string(span.Kind),
			StartLine:     span.StartLine,
			EndLine:       span.EndLine,
			Score:         score,
			VectorScore:   c.vector,
			LexicalScore:  c.lexical,
			GraphDistance: c.graphDst,
			Snippet:       snippet(span.Content),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SpanHash < results[j].SpanHash
	})
	if len(results) > k {
		results = results[:k]
	}

	hashes := make([]string, len(results))
	for i := range results {
		hashes[i] = results[i].SpanHash
	}
	enrichments, err := s.store.GetEnrichments(ctx, hashes)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if e := enrichments[results[i].SpanHash]; e != nil {
			results[i].Summary = e.Summary
		}
	}
	return results, nil
}

func snippet(content string) string {
	lines := strings.SplitN(content, "\n", snippetLines+1)
	if len(lines) > snippetLines {
		lines = lines[:snippetLines]
	}
	return strings.Join(lines, "\n")
}
