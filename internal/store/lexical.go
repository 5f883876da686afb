package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// LexicalIndex is the full-text side of hybrid search. The FTS5
// backend lives inside the SQLite store and needs no separate
// maintenance; the bleve backend trades that for BM25 scoring and a
// code-aware analyzer.
type LexicalIndex interface {
	IndexSpans(ctx context.Context, spans []SpanRow) error
	DeleteSpans(ctx context.Context, hashes []string) error
	Search(ctx context.Context, query string, limit int) ([]LexicalResult, error)
	Close() error
}

// NewLexicalIndex builds the configured backend. "fts5" (default)
// wraps the store's virtual table; "bleve" opens a standalone index
// next to the database.
func NewLexicalIndex(backend string, s *Store) (LexicalIndex, error) {
	switch backend {
	case "", "fts5":
		return &ftsIndex{store: s}, nil
	case "bleve":
		path := ""
		if s.path != "" {
			path = filepath.Join(filepath.Dir(s.path), "lexical.bleve")
		}
		return newBleveIndex(path)
	default:
		return nil, llmcerr.Newf(llmcerr.KindConfigInvalid,
			"unknown lexical backend %q", backend).
			WithRemediation(`set search.lexical_backend to "fts5" or "bleve"`)
	}
}

// ftsIndex reads the span_fts table maintained by ReplaceSpansForFile.
type ftsIndex struct {
	store *Store
}

// IndexSpans is a no-op: the writer keeps span_fts current.
func (f *ftsIndex) IndexSpans(ctx context.Context, spans []SpanRow) error { return nil }

// DeleteSpans is a no-op for the same reason.
func (f *ftsIndex) DeleteSpans(ctx context.Context, hashes []string) error { return nil }

func (f *ftsIndex) Search(ctx context.Context, query string, limit int) ([]LexicalResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := f.store.db.QueryContext(ctx, `
		SELECT span_hash, bm25(span_fts) AS rank
		FROM span_fts
		WHERE span_fts MATCH ?
		ORDER BY rank LIMIT ?`, match, limit)
	if err != nil {
		return nil, classifyStoreErr("fts search", err)
	}
	defer rows.Close()

	var out []LexicalResult
	for rows.Next() {
		var r LexicalResult
		var rank float64
		if err := rows.Scan(&r.SpanHash, &rank); err != nil {
			return nil, err
		}
		// bm25() returns negative ranks, lower is better. Flip so
		// higher means more relevant, matching the vector side.
		r.Score = -rank
		out = append(out, r)
	}
	return out, rows.Err()
}

func (f *ftsIndex) Close() error { return nil }

// ftsQuery turns free text into a safe FTS5 MATCH expression: each
// token quoted, ORed together so partial matches still surface.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !(r == '_' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "._")
		if f == "" {
			continue
		}
		terms = append(terms, fmt.Sprintf("%q", f))
	}
	return strings.Join(terms, " OR ")
}

var _ LexicalIndex = (*ftsIndex)(nil)

// bleveIndex is the BM25 backend. Unlike FTS5 it must be fed by the
// sync pipeline explicitly.
type bleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

type bleveDoc struct {
	Symbol  string `json:"symbol"`
	Content string `json:"content"`
}

func newBleveIndex(path string) (*bleveIndex, error) {
	mapping := bleve.NewIndexMapping()
	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create bleve directory: %w", err)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return &bleveIndex{index: idx}, nil
}

func (b *bleveIndex) IndexSpans(ctx context.Context, spans []SpanRow) error {
	if len(spans) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return llmcerr.New(llmcerr.KindInternal, "bleve index closed")
	}
	batch := b.index.NewBatch()
	for _, sp := range spans {
		if err := batch.Index(sp.Hash, bleveDoc{Symbol: sp.SymbolName, Content: sp.Content}); err != nil {
			return fmt.Errorf("batch span %s: %w", sp.Hash, err)
		}
	}
	return b.index.Batch(batch)
}

func (b *bleveIndex) DeleteSpans(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return llmcerr.New(llmcerr.KindInternal, "bleve index closed")
	}
	batch := b.index.NewBatch()
	for _, h := range hashes {
		batch.Delete(h)
	}
	return b.index.Batch(batch)
}

func (b *bleveIndex) Search(ctx context.Context, query string, limit int) ([]LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, llmcerr.New(llmcerr.KindInternal, "bleve index closed")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	match := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(match)
	req.Size = limit
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}
	out := make([]LexicalResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, LexicalResult{SpanHash: hit.ID, Score: hit.Score})
	}
	return out, nil
}

func (b *bleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ LexicalIndex = (*bleveIndex)(nil)
