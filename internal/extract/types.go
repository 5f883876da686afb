// Package extract turns source files into ordered spans with stable
// hashes, plus the symbol references the graph builder consumes.
package extract

import "context"

// ContentType classifies span content.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// SpanKind is the structural kind of a span.
type SpanKind string

const (
	SpanKindFunction        SpanKind = "function"
	SpanKindClass           SpanKind = "class"
	SpanKindMethod          SpanKind = "method"
	SpanKindMarkdownSection SpanKind = "markdown_section"
	SpanKindBlock           SpanKind = "block"
)

// Span is a contiguous, semantically meaningful slice of a file.
// Content is canonicalized text; lines are metadata and do not
// participate in the hash.
type Span struct {
	Hash        string
	Kind        SpanKind
	SymbolName  string
	StartLine   int // 1-indexed
	EndLine     int // inclusive
	Content     string
	ContentType ContentType
	Language    string
}

// RefKind is the relation kind a reference contributes to the graph.
type RefKind string

const (
	RefCalls   RefKind = "calls"
	RefExtends RefKind = "extends"
	RefImports RefKind = "imports"
	RefReturns RefKind = "returns"
	RefReads   RefKind = "reads"
	RefWrites  RefKind = "writes"
)

// Ref is one symbol-level reference observed during extraction.
// From is the enclosing symbol name, empty for module level.
type Ref struct {
	Kind RefKind
	From string
	To   string
	Line int
}

// FileAnalysis is the full extractor output for one file.
type FileAnalysis struct {
	Path        string
	Language    string
	ContentType ContentType
	Module      string // module entity name derived from the path
	Spans       []*Span
	Refs        []Ref
	Unresolved  int // references dropped during extraction
}

// Extractor produces spans and references for a file.
type Extractor interface {
	// Extract analyzes one file. A parse failure yields a
	// KindParseError; unsupported binary content yields
	// KindUnsupportedLanguage. Text fallbacks never fail.
	Extract(ctx context.Context, path string, content []byte) (*FileAnalysis, error)

	Close()
}
