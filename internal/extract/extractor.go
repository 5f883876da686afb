package extract

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// MaxFileBytes caps file size before the extractor refuses the input.
const MaxFileBytes = 2 * 1024 * 1024

// SpanExtractor is the default Extractor implementation dispatching by
// file extension to a language handler, the markdown chunker, or the
// text block chunker.
type SpanExtractor struct {
	mu        sync.Mutex // tree-sitter parsers are not reentrant
	registry  *LanguageRegistry
	parser    *Parser
	blockMax  int
}

// Option configures a SpanExtractor.
type Option func(*SpanExtractor)

// WithBlockLines overrides the text block size cap.
func WithBlockLines(n int) Option {
	return func(e *SpanExtractor) { e.blockMax = n }
}

// NewSpanExtractor creates an extractor with the default registry.
func NewSpanExtractor(opts ...Option) *SpanExtractor {
	registry := DefaultRegistry()
	e := &SpanExtractor{
		registry: registry,
		parser:   NewParser(registry),
		blockMax: DefaultBlockLines,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ Extractor = (*SpanExtractor)(nil)

// Extract analyzes one file. A code file that fails to parse returns a
// KindParseError and zero spans; callers record a warning, never crash.
func (e *SpanExtractor) Extract(ctx context.Context, path string, content []byte) (*FileAnalysis, error) {
	if len(content) > MaxFileBytes {
		return nil, llmcerr.Newf(llmcerr.KindUnsupportedLanguage, "%s exceeds %d bytes", path, MaxFileBytes)
	}
	if bytes.ContainsRune(content, 0) {
		return nil, llmcerr.Newf(llmcerr.KindUnsupportedLanguage, "%s is binary", path)
	}

	ext := filepath.Ext(path)
	analysis := &FileAnalysis{Path: path, Module: ModuleName(path)}

	if cfg, ok := e.registry.ByExtension(ext); ok {
		analysis.Language = cfg.Name
		analysis.ContentType = ContentTypeCode

		e.mu.Lock()
		tree, err := e.parser.Parse(ctx, content, cfg.Name)
		e.mu.Unlock()
		if err != nil {
			if llmcerr.IsKind(err, llmcerr.KindParseError) {
				return analysis, err
			}
			return nil, err
		}
		analysis.Spans, analysis.Refs, analysis.Unresolved = extractCode(tree, cfg)
		return analysis, nil
	}

	text := string(content)
	switch strings.ToLower(ext) {
	case ".md", ".markdown", ".mdx":
		analysis.Language = "markdown"
		analysis.ContentType = ContentTypeMarkdown
		analysis.Spans = extractMarkdown(path, text)
	default:
		analysis.Language = "text"
		analysis.ContentType = ContentTypeText
		analysis.Spans = extractBlocks(text, e.blockMax)
	}
	return analysis, nil
}

// Close releases parser resources.
func (e *SpanExtractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parser.Close()
}

// ModuleName derives the graph module name from a repo-relative path:
// separators become dots and the extension is dropped.
// "pkg/auth/login.py" -> "pkg.auth.login".
func ModuleName(path string) string {
	path = filepath.ToSlash(path)
	if ext := filepath.Ext(path); ext != "" {
		path = strings.TrimSuffix(path, ext)
	}
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}
