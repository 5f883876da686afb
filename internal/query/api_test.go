package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	"github.com/vmlinuzx/llmc-sub012/internal/embed"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/extract"
	"github.com/vmlinuzx/llmc-sub012/internal/graph"
	"github.com/vmlinuzx/llmc-sub012/internal/route"
	"github.com/vmlinuzx/llmc-sub012/internal/search"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

func newTestAPI(t *testing.T) (*API, *store.Store) {
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

	return NewFromParts(s, searcher, router, gate), s
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
		{Hash: "lll", Kind: extract.SpanKindFunction, SymbolName: "login",
			StartLine: 10, EndLine: 11,
			Content:     "def login(user):\n    check_password(user.pw)",
			ContentType: extract.ContentTypeCode, Language: "python"},
	})
	require.NoError(t, err)

	require.NoError(t, s.UpsertEntities(ctx, []store.Entity{
		{ID: "sym:auth.login.check_password", Kind: "function", PathRef: "auth/login.py",
			Metadata: map[string]string{"symbol": "check_password", "module": "auth.login"}},
		{ID: "sym:auth.login.login", Kind: "function", PathRef: "auth/login.py",
			Metadata: map[string]string{"symbol": "login", "module": "auth.login"}},
	}))
	require.NoError(t, s.PutRelations(ctx, []store.Relation{
		{SrcID: "sym:auth.login.login", EdgeType: "calls", DstID: "sym:auth.login.check_password"},
	}))

	require.NoError(t, s.SetStatus(ctx, store.IndexStatus{
		State: store.StateReady, LastIndexedAt: time.Now(),
		SchemaVersion: store.CurrentSchemaVersion,
	}))
}

func TestSearchEndToEnd(t *testing.T) {
	api, s := newTestAPI(t)
	seedIndex(t, s)

	resp, err := api.Search(context.Background(), SearchRequest{
		Query: "where is the check_password function",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, route.TargetCode, resp.Profile)
	assert.Equal(t, route.FreshnessReady, resp.Freshness)
	assert.Equal(t, "ccc", resp.Results[0].SpanHash)
	assert.Nil(t, resp.Decision)
}

func TestSearchSourceNamesContributingChannels(t *testing.T) {
	api, s := newTestAPI(t)
	seedIndex(t, s)

	// The seeded index answers lexically and through the call graph;
	// no embeddings are stored, so the vector channel stays silent.
	resp, err := api.Search(context.Background(), SearchRequest{
		Query: "where is the check_password function",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "hybrid", resp.Source)
}

func TestSearchExplainAttachesDecision(t *testing.T) {
	api, s := newTestAPI(t)
	seedIndex(t, s)

	resp, err := api.Search(context.Background(), SearchRequest{
		Query: "where is the check_password function", Explain: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Decision)
	assert.NotEmpty(t, resp.Decision.Evidence)
}

func TestSearchEmptyIndexReturnsNoResults(t *testing.T) {
	api, _ := newTestAPI(t)

	resp, err := api.Search(context.Background(), SearchRequest{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, route.FreshnessUnknown, resp.Freshness)
}

func TestSearchErrorStateRefuses(t *testing.T) {
	api, s := newTestAPI(t)
	require.NoError(t, s.SetState(context.Background(), store.StateError, "disk full"))

	_, err := api.Search(context.Background(), SearchRequest{Query: "anything"})
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindStaleIndex))

	var structured *llmcerr.Error
	require.True(t, llmcerr.As(err, &structured))
	assert.NotEmpty(t, structured.Remediation)
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	api, s := newTestAPI(t)
	seedIndex(t, s)

	_, err := api.Search(context.Background(), SearchRequest{Query: "  "})
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindConfigInvalid))
}

func TestWhereUsed(t *testing.T) {
	api, s := newTestAPI(t)
	seedIndex(t, s)

	resp, err := api.WhereUsed(context.Background(), "check_password", 10)
	require.NoError(t, err)
	assert.Equal(t, "sym:auth.login.check_password", resp.Symbol.ID)
	require.Len(t, resp.Usages, 1)
	assert.Equal(t, "sym:auth.login.login", resp.Usages[0].Entity.ID)
	assert.Equal(t, "calls", resp.Usages[0].EdgeType)
}

func TestWhereUsedUnknownSymbol(t *testing.T) {
	api, s := newTestAPI(t)
	seedIndex(t, s)

	_, err := api.WhereUsed(context.Background(), "no_such_symbol", 10)
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindNotFound))
}

func TestLineage(t *testing.T) {
	api, s := newTestAPI(t)
	seedIndex(t, s)

	resp, err := api.Lineage(context.Background(), "login", graph.Downstream, 2)
	require.NoError(t, err)
	require.NotNil(t, resp.Slice)
	require.Len(t, resp.Slice.Nodes, 1)
	assert.Equal(t, "sym:auth.login.check_password", resp.Slice.Nodes[0].Entity.ID)
}

func TestLineageInvalidDirection(t *testing.T) {
	api, s := newTestAPI(t)
	seedIndex(t, s)

	_, err := api.Lineage(context.Background(), "login", graph.Direction("sideways"), 1)
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindConfigInvalid))
}

func TestIndexStatusObservableWhenEmpty(t *testing.T) {
	api, _ := newTestAPI(t)

	resp, err := api.IndexStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, resp.Status)
	assert.Equal(t, store.StateEmpty, resp.Status.State)
	assert.Equal(t, route.FreshnessUnknown, resp.Freshness)
}

func TestStatsAndHealth(t *testing.T) {
	api, s := newTestAPI(t)
	seedIndex(t, s)

	stats, err := api.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 2, stats.Spans)

	health, err := api.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.StateReady, health.Status)
}
