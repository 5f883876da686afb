package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	"github.com/vmlinuzx/llmc-sub012/internal/embed"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/extract"
	"github.com/vmlinuzx/llmc-sub012/internal/query"
	"github.com/vmlinuzx/llmc-sub012/internal/route"
	"github.com/vmlinuzx/llmc-sub012/internal/search"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	lex, err := store.NewLexicalIndex("fts5", s)
	require.NoError(t, err)

	cfg := config.Default()
	searcher := search.NewSearcher(s, lex,
		map[string]embed.Embedder{"code": embed.NewStaticEmbedder(32)}, cfg.Search)
	router, err := route.NewRouter(cfg.Routing, "local_small", false)
	require.NoError(t, err)
	gate := route.NewFreshnessGate(s, t.TempDir(), false)

	api := query.NewFromParts(s, searcher, router, gate)
	return NewServer(api, "test"), s
}

func seedIndex(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	id, _, _, err := s.UpsertFile(ctx, store.File{
		Path: "auth/login.py", ContentHash: "h", MTime: time.Now(),
		Language: "python", Size: 100,
	})
	require.NoError(t, err)
	_, err = s.ReplaceSpansForFile(ctx, id, []store.SpanRow{
		{Hash: "ccc", Kind: extract.SpanKindFunction, SymbolName: "check_password",
			StartLine: 1, EndLine: 2,
			Content:     "def check_password(password):\n    pass",
			ContentType: extract.ContentTypeCode, Language: "python"},
	})
	require.NoError(t, err)
	require.NoError(t, s.UpsertEntities(ctx, []store.Entity{
		{ID: "sym:auth.login.check_password", Kind: "function", PathRef: "auth/login.py",
			Metadata: map[string]string{"symbol": "check_password", "module": "auth.login"}},
	}))
	require.NoError(t, s.SetStatus(ctx, store.IndexStatus{
		State: store.StateReady, LastIndexedAt: time.Now(),
		SchemaVersion: store.CurrentSchemaVersion,
	}))
}

func TestSearchTool(t *testing.T) {
	srv, s := newTestServer(t)
	seedIndex(t, s)

	_, out, err := srv.handleSearch(context.Background(), nil, SearchInput{
		Query: "where is the check_password function",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "code", out.Profile)
	assert.NotEmpty(t, out.Source)
	assert.Equal(t, "ready", out.Freshness)
}

func TestSearchToolEmptyIndexReturnsNoResults(t *testing.T) {
	srv, _ := newTestServer(t)

	_, out, err := srv.handleSearch(context.Background(), nil, SearchInput{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Equal(t, "unknown", out.Freshness)
}

func TestSearchToolRefusalCarriesRemediation(t *testing.T) {
	srv, s := newTestServer(t)
	require.NoError(t, s.SetState(context.Background(), store.StateError, "disk full"))

	_, _, err := srv.handleSearch(context.Background(), nil, SearchInput{Query: "anything"})
	require.Error(t, err)

	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrCodeStaleIndex, pe.Code)
	assert.NotEmpty(t, pe.Remediation)
}

func TestWhereUsedToolRequiresSymbol(t *testing.T) {
	srv, s := newTestServer(t)
	seedIndex(t, s)

	_, _, err := srv.handleWhereUsed(context.Background(), nil, WhereUsedInput{})
	require.Error(t, err)

	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrCodeInvalidParams, pe.Code)
}

func TestUnknownSymbolMapsToNotFound(t *testing.T) {
	srv, s := newTestServer(t)
	seedIndex(t, s)

	_, _, err := srv.handleWhereUsed(context.Background(), nil, WhereUsedInput{Symbol: "nope"})
	require.Error(t, err)

	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrCodeNotFound, pe.Code)
}

func TestIndexStatusToolNeverRefuses(t *testing.T) {
	srv, _ := newTestServer(t)

	_, out, err := srv.handleIndexStatus(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	require.NotNil(t, out.Status)
	assert.Equal(t, store.StateEmpty, out.Status.State)
}

func TestStatsAndHealthTools(t *testing.T) {
	srv, s := newTestServer(t)
	seedIndex(t, s)

	_, stats, err := srv.handleStats(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)

	_, health, err := srv.handleHealth(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, store.StateReady, health.Status)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"stale index", llmcerr.New(llmcerr.KindStaleIndex, "stale"), ErrCodeStaleIndex},
		{"not found", llmcerr.New(llmcerr.KindNotFound, "missing"), ErrCodeNotFound},
		{"bad params", llmcerr.New(llmcerr.KindConfigInvalid, "bad"), ErrCodeInvalidParams},
		{"cancelled", llmcerr.New(llmcerr.KindCancelled, "cancelled"), ErrCodeTimeout},
		{"budget", llmcerr.New(llmcerr.KindBudgetExceeded, "cap"), ErrCodeBudget},
		{"plain error", errors.New("boom"), ErrCodeInternalError},
		{"raw context cancel", context.Canceled, ErrCodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := MapError(tt.err)
			assert.Equal(t, tt.code, pe.Code)
		})
	}
}
