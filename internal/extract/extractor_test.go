package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb", "a\nb"},
		{"bare cr", "a\rb", "a\nb"},
		{"trailing spaces", "a  \nb\t", "a\nb"},
		{"indentation preserved", "  a\n    b", "  a\n    b"},
		{"already clean", "a\nb", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.in))
		})
	}
}

func TestSpanHashDeterministic(t *testing.T) {
	h1 := SpanHash(ContentTypeCode, "python", "def f():\n    return 1")
	h2 := SpanHash(ContentTypeCode, "python", "def f():\n    return 1")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32) // blake2b-128 hex

	// Content type and language participate in the hash.
	assert.NotEqual(t, h1, SpanHash(ContentTypeText, "python", "def f():\n    return 1"))
	assert.NotEqual(t, h1, SpanHash(ContentTypeCode, "go", "def f():\n    return 1"))
}

func TestExtractPythonFunction(t *testing.T) {
	e := NewSpanExtractor()
	defer e.Close()

	src := []byte("def f():\n    return 1\n")
	analysis, err := e.Extract(context.Background(), "a.py", src)
	require.NoError(t, err)
	require.Len(t, analysis.Spans, 1)

	span := analysis.Spans[0]
	assert.Equal(t, SpanKindFunction, span.Kind)
	assert.Equal(t, "f", span.SymbolName)
	assert.Equal(t, 1, span.StartLine)
	assert.Equal(t, "python", span.Language)
}

func TestHashStableAcrossBlankLineShift(t *testing.T) {
	e := NewSpanExtractor()
	defer e.Close()
	ctx := context.Background()

	before, err := e.Extract(ctx, "a.py", []byte("def f():\n    return 1\n"))
	require.NoError(t, err)
	after, err := e.Extract(ctx, "a.py", []byte("\n\ndef f():\n    return 1\n"))
	require.NoError(t, err)

	require.Len(t, before.Spans, 1)
	require.Len(t, after.Spans, 1)
	assert.Equal(t, before.Spans[0].Hash, after.Spans[0].Hash,
		"blank lines above a function must not change its hash")
	assert.NotEqual(t, before.Spans[0].StartLine, after.Spans[0].StartLine,
		"line metadata still moves")
}

func TestHashChangesWithDocstring(t *testing.T) {
	e := NewSpanExtractor()
	defer e.Close()
	ctx := context.Background()

	plain, err := e.Extract(ctx, "a.py", []byte("def f():\n    return 1\n"))
	require.NoError(t, err)
	documented, err := e.Extract(ctx, "a.py", []byte("# doubles nothing\ndef f():\n    return 1\n"))
	require.NoError(t, err)

	require.Len(t, plain.Spans, 1)
	require.Len(t, documented.Spans, 1)
	assert.NotEqual(t, plain.Spans[0].Hash, documented.Spans[0].Hash)
}

func TestHashStableAcrossFileRename(t *testing.T) {
	e := NewSpanExtractor()
	defer e.Close()
	ctx := context.Background()

	src := []byte("def f():\n    return 1\n")
	a, err := e.Extract(ctx, "a.py", src)
	require.NoError(t, err)
	b, err := e.Extract(ctx, "b/renamed.py", src)
	require.NoError(t, err)

	assert.Equal(t, a.Spans[0].Hash, b.Spans[0].Hash)
}

func TestExtractGoFileWithRefs(t *testing.T) {
	e := NewSpanExtractor()
	defer e.Close()

	src := []byte(`package auth

import "fmt"

// Login authenticates a user.
func Login(name string) error {
	fmt.Println(name)
	return nil
}
`)
	analysis, err := e.Extract(context.Background(), "auth/auth.go", src)
	require.NoError(t, err)
	assert.Equal(t, "auth.auth", analysis.Module)

	var loginSpan *Span
	for _, s := range analysis.Spans {
		if s.SymbolName == "Login" {
			loginSpan = s
		}
	}
	require.NotNil(t, loginSpan, "Login span missing")
	assert.Contains(t, loginSpan.Content, "// Login authenticates a user.")

	var callTargets []string
	var importTargets []string
	for _, r := range analysis.Refs {
		switch r.Kind {
		case RefCalls:
			callTargets = append(callTargets, r.To)
		case RefImports:
			importTargets = append(importTargets, r.To)
		}
	}
	assert.Contains(t, callTargets, "fmt.Println")
	assert.NotEmpty(t, importTargets)
}

func TestExtractPythonClass(t *testing.T) {
	e := NewSpanExtractor()
	defer e.Close()

	src := []byte(`class Base:
    def ping(self):
        return "pong"

class Child(Base):
    def run(self):
        return self.ping()
`)
	analysis, err := e.Extract(context.Background(), "m.py", src)
	require.NoError(t, err)

	symbols := map[string]SpanKind{}
	for _, s := range analysis.Spans {
		symbols[s.SymbolName] = s.Kind
	}
	assert.Equal(t, SpanKindClass, symbols["Base"])
	assert.Equal(t, SpanKindClass, symbols["Child"])
	assert.Equal(t, SpanKindMethod, symbols["Child.run"])

	var extends []Ref
	for _, r := range analysis.Refs {
		if r.Kind == RefExtends {
			extends = append(extends, r)
		}
	}
	require.Len(t, extends, 1)
	assert.Equal(t, "Child", extends[0].From)
	assert.Equal(t, "Base", extends[0].To)
}

func TestExtractMarkdownSections(t *testing.T) {
	e := NewSpanExtractor()
	defer e.Close()

	src := []byte("intro text\n\n# First\nbody one\n\n## Second\nbody two\n")
	analysis, err := e.Extract(context.Background(), "README.md", src)
	require.NoError(t, err)
	require.Len(t, analysis.Spans, 3)

	assert.Equal(t, "(preamble)", analysis.Spans[0].SymbolName)
	assert.Equal(t, "First", analysis.Spans[1].SymbolName)
	assert.Equal(t, "Second", analysis.Spans[2].SymbolName)
	for _, s := range analysis.Spans {
		assert.Equal(t, SpanKindMarkdownSection, s.Kind)
	}
}

func TestExtractTextBlocks(t *testing.T) {
	e := NewSpanExtractor(WithBlockLines(10))
	defer e.Close()

	var b strings.Builder
	for i := 0; i < 25; i++ {
		b.WriteString("line\n")
		if i%7 == 6 {
			b.WriteString("\n")
		}
	}
	analysis, err := e.Extract(context.Background(), "notes.txt", []byte(b.String()))
	require.NoError(t, err)
	require.NotEmpty(t, analysis.Spans)

	for _, s := range analysis.Spans {
		assert.Equal(t, SpanKindBlock, s.Kind)
		assert.LessOrEqual(t, s.EndLine-s.StartLine+1, 10)
	}
	// Blocks are byte-disjoint and ordered.
	for i := 1; i < len(analysis.Spans); i++ {
		assert.Greater(t, analysis.Spans[i].StartLine, analysis.Spans[i-1].EndLine)
	}
}

func TestExtractParseErrorYieldsZeroSpans(t *testing.T) {
	e := NewSpanExtractor()
	defer e.Close()

	analysis, err := e.Extract(context.Background(), "broken.go", []byte("func {{{{"))
	require.Error(t, err)
	assert.Equal(t, llmcerr.KindParseError, llmcerr.KindOf(err))
	if analysis != nil {
		assert.Empty(t, analysis.Spans)
	}
}

func TestExtractRejectsBinary(t *testing.T) {
	e := NewSpanExtractor()
	defer e.Close()

	_, err := e.Extract(context.Background(), "blob.bin", []byte{0x00, 0x01, 0x02})
	require.Error(t, err)
	assert.Equal(t, llmcerr.KindUnsupportedLanguage, llmcerr.KindOf(err))
}

func TestModuleName(t *testing.T) {
	assert.Equal(t, "auth", ModuleName("auth.py"))
	assert.Equal(t, "pkg.auth.login", ModuleName("pkg/auth/login.py"))
	assert.Equal(t, "README", ModuleName("README.md"))
}
