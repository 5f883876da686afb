package embed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/extract"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

// captureEmbedder records inputs and answers with static vectors.
type captureEmbedder struct {
	mu     sync.Mutex
	inner  *StaticEmbedder
	inputs []string
}

func newCaptureEmbedder(dim int) *captureEmbedder {
	return &captureEmbedder{inner: NewStaticEmbedder(dim)}
}

func (c *captureEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.inputs = append(c.inputs, texts...)
	c.mu.Unlock()
	return c.inner.Embed(ctx, texts)
}

func (c *captureEmbedder) ProviderID() string { return c.inner.ProviderID() }
func (c *captureEmbedder) Dim() int           { return c.inner.Dim() }
func (c *captureEmbedder) Close() error       { return nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSpans(t *testing.T, s *store.Store, path string, spans ...store.SpanRow) {
	t.Helper()
	ctx := context.Background()
	id, _, _, err := s.UpsertFile(ctx, store.File{
		Path: path, ContentHash: "hash-of-" + path,
		MTime: time.Now(), Language: "python", Size: 100,
	})
	require.NoError(t, err)
	_, err = s.ReplaceSpansForFile(ctx, id, spans)
	require.NoError(t, err)
}

func spanRow(hash string, start, end int) store.SpanRow {
	return store.SpanRow{
		Hash: hash, Kind: extract.SpanKindFunction, SymbolName: "f_" + hash,
		StartLine: start, EndLine: end,
		Content:     "def f_" + hash + "():\n    pass",
		ContentType: extract.ContentTypeCode, Language: "python",
	}
}

func serviceConfig() config.EmbeddingsConfig {
	return config.EmbeddingsConfig{
		Profiles: map[string]config.Profile{
			"code": {Provider: "static", Model: "hash", Dim: 64},
		},
		DefaultProfile: "code",
		BatchSize:      2,
	}
}

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"parse config file", "parse config file", "render html"})
	require.NoError(t, err)
	require.Len(t, a, 3)
	assert.Equal(t, a[0], a[1])
	assert.NotEqual(t, a[0], a[2])

	var norm float64
	for _, f := range a[0] {
		norm += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestNewEmbedderRejectsUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(config.Profile{Provider: "cloudx", Model: "m", Dim: 8}, "")
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindConfigInvalid))
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaEmbedderConfig{Host: srv.URL, Model: "nomic-embed-text", Dim: 3})
	defer e.Close()

	vs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.InDelta(t, 0.2, vs[0][1], 1e-6)
	assert.Equal(t, "ollama/nomic-embed-text", e.ProviderID())
}

func TestOllamaEmbedderDimMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding": [0.1, 0.2]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaEmbedderConfig{Host: srv.URL, Model: "m", Dim: 768})
	defer e.Close()

	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindConfigInvalid))
}

func TestServiceEmbedsPendingSpans(t *testing.T) {
	s := newTestStore(t)
	seedSpans(t, s, "auth/login.py", spanRow("aaa", 1, 2), spanRow("bbb", 5, 6))

	svc, err := NewService(s, serviceConfig())
	require.NoError(t, err)
	defer svc.Close()

	report, err := svc.Run(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pending)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 0, report.Failed)

	e, err := s.GetEmbedding(context.Background(), "aaa", "code")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 64, e.Dim)
	assert.Equal(t, "static/64", e.ProviderID)

	// Nothing left on the second pass.
	report, err = svc.Run(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pending)
}

func TestServicePrefersEnrichmentSummary(t *testing.T) {
	s := newTestStore(t)
	seedSpans(t, s, "auth/login.py", spanRow("aaa", 1, 2))
	require.NoError(t, s.PutEnrichment(context.Background(), store.Enrichment{
		SpanHash: "aaa", Summary: "Validates a login attempt.", ModelID: "m",
	}))

	rec := newCaptureEmbedder(64)
	svc, err := NewService(s, serviceConfig(), WithEmbedder("code", rec))
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Run(context.Background(), "code")
	require.NoError(t, err)
	require.Len(t, rec.inputs, 1)
	assert.Contains(t, rec.inputs[0], "Validates a login attempt.")
	assert.NotContains(t, rec.inputs[0], "def f_aaa")
}

func TestServiceInvalidatesOnModelSwitch(t *testing.T) {
	s := newTestStore(t)
	seedSpans(t, s, "auth/login.py", spanRow("aaa", 1, 2))
	require.NoError(t, s.PutEmbedding(context.Background(), store.Embedding{
		SpanHash: "aaa", Profile: "code",
		Vector: make([]float32, 64), ProviderID: "ollama/old-model",
	}))

	svc, err := NewService(s, serviceConfig())
	require.NoError(t, err)
	defer svc.Close()

	report, err := svc.Run(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invalidated)
	assert.Equal(t, 1, report.Embedded)

	e, err := s.GetEmbedding(context.Background(), "aaa", "code")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "static/64", e.ProviderID)
}

func TestServiceUnknownProfile(t *testing.T) {
	s := newTestStore(t)
	svc, err := NewService(s, serviceConfig())
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Run(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindConfigInvalid))
}
