package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// DefaultOllamaHost is the stock local endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaConfig configures the local adapter.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// OllamaGenerator talks to a local Ollama host over /api/generate.
type OllamaGenerator struct {
	client    *http.Client
	transport *http.Transport
	host      string
	model     string
	timeout   time.Duration
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator builds the adapter. No health check here: the
// pipeline's first call and the circuit breaker handle a dead host.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}
	// No client-level timeout: the per-request context carries it.
	return &OllamaGenerator{
		client:    &http.Client{Transport: transport},
		transport: transport,
		host:      cfg.Host,
		model:     cfg.Model,
		timeout:   cfg.Timeout,
	}
}

func (g *OllamaGenerator) ModelID() string { return "ollama/" + g.model }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Done            bool   `json:"done"`
}

func (g *OllamaGenerator) Generate(ctx context.Context, req Request) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   g.model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "encode generate request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "build generate request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp.StatusCode, string(raw))
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindBackendParse, "decode generate response", err)
	}
	return &Completion{
		Text:      out.Response,
		TokensIn:  out.PromptEvalCount,
		TokensOut: out.EvalCount,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func (g *OllamaGenerator) Close() error {
	g.transport.CloseIdleConnections()
	return nil
}

// classifyTransportErr distinguishes timeouts and cancellations from
// hard connection failures.
func classifyTransportErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return llmcerr.Wrap(llmcerr.KindCancelled, "backend call", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return llmcerr.Wrap(llmcerr.KindBackendTimeout, "backend call", err)
	default:
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return llmcerr.Wrap(llmcerr.KindBackendTimeout, "backend call", err)
		}
		// Connection refused and friends behave like a 5xx: the host
		// may come back.
		return llmcerr.Wrap(llmcerr.KindBackendHTTP, "backend call",
			fmt.Errorf("transport: %w", err))
	}
}
