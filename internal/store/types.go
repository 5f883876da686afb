// Package store is the persistence layer: a single embedded SQLite
// database holding files, spans, enrichments, embeddings, the symbol
// graph, and index status. Single writer, many readers.
package store

import (
	"time"

	"github.com/vmlinuzx/llmc-sub012/internal/extract"
)

// CurrentSchemaVersion is the code's schema version. The on-disk
// version is migrated forward on open.
const CurrentSchemaVersion = 2

// File is one tracked repo-relative path.
type File struct {
	ID          int64
	Path        string
	ContentHash string
	MTime       time.Time
	Language    string
	Size        int64
}

// SpanRow is a stored span. Hash is shared across files for identical
// content; (FileID, Hash) is unique.
type SpanRow struct {
	Hash        string
	FileID      int64
	Kind        extract.SpanKind
	SymbolName  string
	StartLine   int
	EndLine     int
	Content     string
	ContentType extract.ContentType
	Language    string
	Position    int // order within the file
}

// Enrichment is LLM-produced metadata for one span hash. Rows are
// immutable once written.
type Enrichment struct {
	SpanHash     string     `json:"span_hash"`
	Summary      string     `json:"summary"`
	Inputs       []string   `json:"inputs"`
	Outputs      []string   `json:"outputs"`
	SideEffects  []string   `json:"side_effects"`
	Pitfalls     []string   `json:"pitfalls"`
	UsageSnippet string     `json:"usage_snippet,omitempty"`
	Evidence     []LineSpan `json:"evidence,omitempty"`
	ModelID      string     `json:"model_id"`
	CreatedAt    time.Time  `json:"created_at"`
}

// LineSpan is an evidence line range inside a span.
type LineSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Embedding is one stored vector for a (span, profile) pair.
type Embedding struct {
	SpanHash   string
	Profile    string
	Vector     []float32
	Dim        int
	ProviderID string
	CreatedAt  time.Time
}

// Entity is a graph node, unique by ID within a repo.
type Entity struct {
	ID       string // e.g. sym:auth.login, mod:auth
	Kind     string // module, function, class, method
	PathRef  string // repo-relative file path
	Metadata map[string]string
}

// Relation is a graph edge. Multi-edges collapse on the natural key.
type Relation struct {
	SrcID    string
	EdgeType string // calls, extends, imports, reads, writes, defines, returns
	DstID    string
}

// FailureRecord tracks enrichment failures per (span, tier); it drives
// tier escalation and cooldowns.
type FailureRecord struct {
	SpanHash      string
	Tier          string
	Reason        string
	Attempts      int
	CooldownUntil time.Time
	LastSeenAt    time.Time
}

// IndexState is the lifecycle state of a repo's index.
type IndexState string

const (
	StateEmpty    IndexState = "empty"
	StateIndexing IndexState = "indexing"
	StateReady    IndexState = "ready"
	StateWarn     IndexState = "warn"
	StateError    IndexState = "error"
)

// IndexStatus is the single status record per repo.
type IndexStatus struct {
	RepoPath          string     `json:"repo_path"`
	State             IndexState `json:"state"`
	LastIndexedAt     time.Time  `json:"last_indexed_at"`
	LastIndexedCommit string     `json:"last_indexed_commit,omitempty"`
	SchemaVersion     int        `json:"schema_version"`
	LastError         string     `json:"last_error,omitempty"`
}

// ManifestEntry is one persisted file fingerprint used for change
// detection when no VCS marker is available.
type ManifestEntry struct {
	Path        string
	MTime       time.Time
	Size        int64
	ContentHash string
}

// Stats are the index-wide counters surfaced by the query API.
type Stats struct {
	Files              int            `json:"files"`
	Spans              int            `json:"spans"`
	Enrichments        int            `json:"enrichments"`
	Embeddings         map[string]int `json:"embeddings"` // per profile
	PendingEnrichments int            `json:"pending_enrichments"`
	PendingEmbeddings  int            `json:"pending_embeddings"`
	OrphanEnrichments  int            `json:"orphan_enrichments"`
	Entities           int            `json:"entities"`
	Relations          int            `json:"relations"`
	Writes             int64          `json:"writes"` // committed write transactions
}

// Health is the health snapshot surfaced by the query API.
type Health struct {
	Status          IndexState `json:"status"`
	Issues          []string   `json:"issues,omitempty"`
	TopPendingFiles []string   `json:"top_pending_files,omitempty"` // at most 5
	Orphans         []string   `json:"orphan_enrichments,omitempty"`
}

// LexicalResult is one full-text search hit.
type LexicalResult struct {
	SpanHash string
	Score    float64
}

// VectorResult is one k-NN hit.
type VectorResult struct {
	SpanHash string
	Score    float64 // normalized similarity, higher is closer
}

// PendingSpan is a span awaiting enrichment, with the file context the
// pipeline needs for ordering and batching.
type PendingSpan struct {
	Span      SpanRow
	FilePath  string
	FileMTime time.Time
}
