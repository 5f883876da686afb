package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// OpenAIConfig configures an OpenAI-compatible remote adapter. Any
// provider speaking /v1/chat/completions works; the endpoint and key
// env var come from config.
type OpenAIConfig struct {
	Endpoint  string
	Model     string
	APIKeyEnv string
	Timeout   time.Duration
}

// OpenAIGenerator is the remote chat-completions adapter.
type OpenAIGenerator struct {
	client    *http.Client
	transport *http.Transport
	endpoint  string
	model     string
	apiKey    string
	timeout   time.Duration
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator builds the adapter. A missing API key is a
// configuration error, caught before any request is spent.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.Endpoint == "" {
		return nil, llmcerr.New(llmcerr.KindConfigInvalid, "remote backend has no endpoint")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, llmcerr.Newf(llmcerr.KindConfigInvalid,
				"environment variable %s is empty", cfg.APIKeyEnv).
				WithRemediation("export the provider API key or remove the tier from the cascade")
		}
	}
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &OpenAIGenerator{
		client:    &http.Client{Transport: transport},
		transport: transport,
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		apiKey:    apiKey,
		timeout:   cfg.Timeout,
	}, nil
}

func (g *OpenAIGenerator) ModelID() string { return g.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := []chatMessage{}
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "encode chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

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

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindBackendParse, "decode chat response", err)
	}
	if len(out.Choices) == 0 {
		return nil, llmcerr.New(llmcerr.KindBackendParse, "chat response has no choices")
	}
	return &Completion{
		Text:      out.Choices[0].Message.Content,
		TokensIn:  out.Usage.PromptTokens,
		TokensOut: out.Usage.CompletionTokens,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func (g *OpenAIGenerator) Close() error {
	g.transport.CloseIdleConnections()
	return nil
}
