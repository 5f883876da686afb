package middleware

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/vmlinuzx/llmc-sub012/internal/backend"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// Config sizes the reliability layer for one backend.
type Config struct {
	RequestsPerMinute int
	TokensPerMinute   int
	Retry             llmcerr.RetryConfig
	Breaker           *CircuitBreaker
	Cost              *CostTracker
}

// Wrapped decorates a Generator with the full reliability stack.
// Order per call: budget check, breaker admission, token buckets,
// then the adapter call under retry with backoff.
type Wrapped struct {
	inner    backend.Generator
	requests *rate.Limiter
	tokens   *rate.Limiter
	retry    llmcerr.RetryConfig
	breaker  *CircuitBreaker
	cost     *CostTracker
}

var _ backend.Generator = (*Wrapped)(nil)

// Wrap builds the decorated generator.
func Wrap(inner backend.Generator, cfg Config) *Wrapped {
	w := &Wrapped{
		inner:   inner,
		retry:   cfg.Retry,
		breaker: cfg.Breaker,
		cost:    cfg.Cost,
	}
	if w.retry.MaxAttempts == 0 {
		w.retry = llmcerr.DefaultRetryConfig()
	}
	if w.breaker == nil {
		w.breaker = NewCircuitBreaker(inner.ModelID())
	}
	if cfg.RequestsPerMinute > 0 {
		w.requests = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), cfg.RequestsPerMinute)
	}
	if cfg.TokensPerMinute > 0 {
		burst := cfg.TokensPerMinute
		w.tokens = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60), burst)
	}
	return w
}

func (w *Wrapped) ModelID() string { return w.inner.ModelID() }
func (w *Wrapped) Close() error    { return w.inner.Close() }

// Breaker exposes the circuit for the cascade's escalation decisions.
func (w *Wrapped) Breaker() *CircuitBreaker { return w.breaker }

// Cost exposes the tracker for status output.
func (w *Wrapped) Cost() *CostTracker { return w.cost }

// estimateTokens sizes the token-bucket reservation. Four bytes per
// token is the usual rough cut for code and English.
func estimateTokens(req backend.Request) int {
	n := (len(req.Prompt) + len(req.System)) / 4
	if n < 1 {
		n = 1
	}
	return n
}

func (w *Wrapped) Generate(ctx context.Context, req backend.Request) (*backend.Completion, error) {
	// Budget first: an exhausted budget must not consume rate tokens
	// or breaker probes.
	if w.cost != nil {
		if err := w.cost.Check(); err != nil {
			return nil, err
		}
	}
	if !w.breaker.Allow() {
		return nil, llmcerr.Newf(llmcerr.KindCircuitOpen,
			"circuit open for %s", w.inner.ModelID()).
			WithRemediation("wait for the breaker reset window or escalate to another tier")
	}

	if w.requests != nil {
		if err := w.requests.Wait(ctx); err != nil {
			return nil, llmcerr.Wrap(llmcerr.KindCancelled, "rate limit wait", err)
		}
	}
	if w.tokens != nil {
		est := estimateTokens(req)
		if est > w.tokens.Burst() {
			est = w.tokens.Burst()
		}
		if err := w.tokens.WaitN(ctx, est); err != nil {
			return nil, llmcerr.Wrap(llmcerr.KindCancelled, "token limit wait", err)
		}
	}

	var out *backend.Completion
	var lastErr error
	for attempt := 0; attempt < w.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := w.retry.Backoff(attempt - 1)
			slog.Debug("backend_retry",
				slog.String("model", w.inner.ModelID()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, llmcerr.Wrap(llmcerr.KindCancelled, "retry wait", ctx.Err())
			case <-timer.C:
			}
		}
		out, lastErr = w.inner.Generate(ctx, req)
		if lastErr == nil {
			break
		}
		if !retryable(lastErr) {
			break
		}
	}

	switch {
	case lastErr == nil:
		w.breaker.RecordSuccess()
		if w.cost != nil && out != nil {
			w.cost.Charge(out.TokensIn, out.TokensOut)
		}
		return out, nil
	case llmcerr.IsCancelled(lastErr):
		// A cancelled call says nothing about backend health.
		return nil, lastErr
	case llmcerr.IsKind(lastErr, llmcerr.KindQuotaExhausted):
		w.breaker.Trip()
		return nil, lastErr
	default:
		w.breaker.RecordFailure()
		return nil, lastErr
	}
}

// retryable keeps the kind-level policy but exempts fatal HTTP
// statuses: a 400 will be a 400 every time.
func retryable(err error) bool {
	if backend.Fatal(err) {
		return false
	}
	if llmcerr.IsKind(err, llmcerr.KindQuotaExhausted) {
		// Quota recovers on a window boundary, not on a retry.
		return false
	}
	return llmcerr.KindOf(err).Retryable()
}
