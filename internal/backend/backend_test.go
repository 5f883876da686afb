package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare object", input: `{"a": 1}`, want: `{"a": 1}`},
		{name: "fenced json", input: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "fenced no tag", input: "```\n[1, 2]\n```", want: `[1, 2]`},
		{name: "chatter around object", input: "Sure! Here you go: {\"a\": 1} hope that helps",
			want: `{"a": 1}`},
		{name: "nested braces", input: `{"a": {"b": [1, {"c": 2}]}}`,
			want: `{"a": {"b": [1, {"c": 2}]}}`},
		{name: "braces inside strings", input: `{"a": "}{"}`, want: `{"a": "}{"}`},
		{name: "no json", input: "I cannot help with that.", wantErr: true},
		{name: "unterminated", input: `{"a": 1`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, llmcerr.IsKind(err, llmcerr.KindBackendParse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"timeout", llmcerr.New(llmcerr.KindBackendTimeout, "x"), CategoryTimeout},
		{"parse", llmcerr.New(llmcerr.KindBackendParse, "x"), CategoryParse},
		{"quota via 429", httpError(429, "slow down"), CategoryQuota},
		{"server error", httpError(503, "boom"), CategoryHTTP5xx},
		{"bad request", httpError(400, "nope"), CategoryHTTP4xxFatal},
		{"auth", httpError(401, "who"), CategoryHTTP4xxFatal},
		{"request timeout status", httpError(408, "slow"), CategoryHTTP4xxRetryable},
		{"nil", nil, CategoryNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err))
		})
	}
	assert.True(t, Fatal(httpError(404, "gone")))
	assert.False(t, Fatal(httpError(500, "retry me")))
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response": "a summary", "prompt_eval_count": 12, "eval_count": 5, "done": true}`))
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "qwen2.5:3b"})
	defer g.Close()

	out, err := g.Generate(context.Background(), Request{Prompt: "summarize this"})
	require.NoError(t, err)
	assert.Equal(t, "a summary", out.Text)
	assert.Equal(t, 12, out.TokensIn)
	assert.Equal(t, 5, out.TokensOut)
	assert.Equal(t, "ollama/qwen2.5:3b", g.ModelID())
}

func TestOllamaGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "m", Timeout: 50 * time.Millisecond})
	defer g.Close()

	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindBackendTimeout))
}

func TestOllamaGenerateHTTPErrors(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("upstream unhappy"))
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "m"})
	defer g.Close()

	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindBackendHTTP))
	assert.Equal(t, CategoryHTTP5xx, Categorize(err))

	status = http.StatusTooManyRequests
	_, err = g.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindQuotaExhausted))
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "remote answer"}}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 8}
		}`))
	}))
	defer srv.Close()

	t.Setenv("LLMC_TEST_API_KEY", "test-key")
	g, err := NewOpenAIGenerator(OpenAIConfig{
		Endpoint: srv.URL, Model: "gpt-4o-mini", APIKeyEnv: "LLMC_TEST_API_KEY",
	})
	require.NoError(t, err)
	defer g.Close()

	out, err := g.Generate(context.Background(), Request{Prompt: "q", System: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "remote answer", out.Text)
	assert.Equal(t, 30, out.TokensIn)
}

func TestOpenAIMissingKeyIsConfigError(t *testing.T) {
	t.Setenv("LLMC_TEST_MISSING_KEY", "")
	_, err := NewOpenAIGenerator(OpenAIConfig{
		Endpoint: "http://example.invalid", Model: "m", APIKeyEnv: "LLMC_TEST_MISSING_KEY",
	})
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindConfigInvalid))
}

func TestMockGeneratorScript(t *testing.T) {
	boom := llmcerr.New(llmcerr.KindBackendTimeout, "scripted")
	m := NewMockGenerator("mock", MockStep{Err: boom}, MockStep{Text: "second try"})

	_, err := m.Generate(context.Background(), Request{Prompt: "a"})
	require.Error(t, err)
	out, err := m.Generate(context.Background(), Request{Prompt: "b"})
	require.NoError(t, err)
	assert.Equal(t, "second try", out.Text)
	// Script exhausted: last step repeats.
	out, err = m.Generate(context.Background(), Request{Prompt: "c"})
	require.NoError(t, err)
	assert.Equal(t, "second try", out.Text)
	assert.Equal(t, 3, m.Calls())
	assert.Equal(t, []string{"a", "b", "c"}, m.Prompts())
}
