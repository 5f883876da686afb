// Package backend adapts LLM providers behind one Generator contract.
// Adapters return categorized errors so the middleware and the cascade
// can tell a retryable hiccup from a fatal misconfiguration.
package backend

import (
	"context"
	"fmt"
	"net/http"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// Request is one generation call.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Completion is a successful generation.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
	LatencyMS int64
}

// Generator is the adapter contract. Close releases pooled
// connections; adapters are safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Completion, error)
	ModelID() string
	Close() error
}

// Category is the backend failure taxonomy.
type Category string

const (
	CategoryTimeout          Category = "timeout"
	CategoryHTTP5xx          Category = "http_status_5xx"
	CategoryHTTP4xxRetryable Category = "http_status_4xx_retryable"
	CategoryHTTP4xxFatal     Category = "http_status_4xx_fatal"
	CategoryParse            Category = "parse_error"
	CategoryQuota            Category = "quota_exhausted"
	CategoryNone             Category = ""
)

// HTTPError carries the status behind a KindBackendHTTP error.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Status, e.Body)
}

// Retryable: 5xx, 408, and 429 are transient; other 4xx are caller
// bugs or configuration problems.
func (e *HTTPError) Retryable() bool {
	return e.Status >= 500 ||
		e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusTooManyRequests
}

// httpError wraps a non-2xx response into the error taxonomy.
func httpError(status int, body string) error {
	if len(body) > 512 {
		body = body[:512]
	}
	he := &HTTPError{Status: status, Body: body}
	if status == http.StatusTooManyRequests || status == http.StatusPaymentRequired {
		return llmcerr.Wrap(llmcerr.KindQuotaExhausted, "backend quota", he)
	}
	return llmcerr.Wrap(llmcerr.KindBackendHTTP, "backend call", he)
}

// Categorize maps an adapter error onto the taxonomy.
func Categorize(err error) Category {
	if err == nil {
		return CategoryNone
	}
	switch llmcerr.KindOf(err) {
	case llmcerr.KindBackendTimeout:
		return CategoryTimeout
	case llmcerr.KindQuotaExhausted:
		return CategoryQuota
	case llmcerr.KindBackendParse:
		return CategoryParse
	case llmcerr.KindBackendHTTP:
		var he *HTTPError
		if llmcerr.As(err, &he) {
			switch {
			case he.Status >= 500:
				return CategoryHTTP5xx
			case he.Retryable():
				return CategoryHTTP4xxRetryable
			default:
				return CategoryHTTP4xxFatal
			}
		}
		return CategoryHTTP5xx
	}
	return CategoryNone
}

// Fatal reports errors that no retry or tier escalation can fix.
func Fatal(err error) bool {
	return Categorize(err) == CategoryHTTP4xxFatal
}
