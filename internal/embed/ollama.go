package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vmlinuzx/llmc-sub012/internal/backend"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// OllamaEmbedderConfig configures the local embedding adapter.
type OllamaEmbedderConfig struct {
	Host    string
	Model   string
	Dim     int
	Timeout time.Duration
}

// OllamaEmbedder calls a local Ollama host's /api/embeddings endpoint,
// one prompt per request.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	host      string
	model     string
	dim       int
	timeout   time.Duration
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder builds the adapter. Like the generation adapter it
// performs no health check; the first call reports a dead host.
func NewOllamaEmbedder(cfg OllamaEmbedderConfig) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = backend.DefaultOllamaHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}
	return &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		host:      cfg.Host,
		model:     cfg.Model,
		dim:       cfg.Dim,
		timeout:   cfg.Timeout,
	}
}

func (e *OllamaEmbedder) ProviderID() string { return "ollama/" + e.model }
func (e *OllamaEmbedder) Dim() int           { return e.dim }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "encode embed request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "build embed request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, classifyEmbedErr(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyEmbedErr(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, llmcerr.Newf(llmcerr.KindBackendHTTP,
			"embeddings endpoint returned HTTP %d: %s", resp.StatusCode, msg)
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindBackendParse, "decode embed response", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, llmcerr.New(llmcerr.KindBackendParse, "embed response holds no vector")
	}
	if e.dim > 0 && len(parsed.Embedding) != e.dim {
		return nil, llmcerr.Newf(llmcerr.KindConfigInvalid,
			"model %s returned %d-dim vectors, profile declares %d",
			e.model, len(parsed.Embedding), e.dim).
			WithRemediation("fix the profile's dim to match the model")
	}

	v := make([]float32, len(parsed.Embedding))
	for i, f := range parsed.Embedding {
		v[i] = float32(f)
	}
	return v, nil
}

func (e *OllamaEmbedder) Close() error {
	e.transport.CloseIdleConnections()
	return nil
}

func classifyEmbedErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return llmcerr.Wrap(llmcerr.KindCancelled, "embed call", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return llmcerr.Wrap(llmcerr.KindBackendTimeout, "embed call", err)
	default:
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return llmcerr.Wrap(llmcerr.KindBackendTimeout, "embed call", err)
		}
		return llmcerr.Wrap(llmcerr.KindBackendHTTP, "embed call",
			fmt.Errorf("transport: %w", err))
	}
}
