package enrich

import (
	"context"
	"log/slog"
	"time"

	"github.com/vmlinuzx/llmc-sub012/internal/backend"
	"github.com/vmlinuzx/llmc-sub012/internal/config"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/middleware"
)

// Tier is one cascade member: a named backend behind the reliability
// middleware.
type Tier struct {
	Name string
	Gen  backend.Generator
}

// Cascade orders tiers cheapest-first and escalates a request when the
// current tier cannot answer: parse failures, exhausted retries, open
// circuits, and spent budgets all move to the next tier. Fatal HTTP
// 4xx responses and cancellation stop the cascade.
type Cascade struct {
	tiers     []Tier
	startTier string
}

// NewCascade builds the cascade from configuration. Tier order follows
// cfg.Cascade.
func NewCascade(cfg config.EnrichmentConfig) (*Cascade, error) {
	if len(cfg.Cascade) == 0 {
		return nil, llmcerr.New(llmcerr.KindConfigInvalid, "enrichment.cascade is empty")
	}
	c := &Cascade{startTier: cfg.StartTier}
	for _, name := range cfg.Cascade {
		bc, ok := cfg.Backends[name]
		if !ok {
			return nil, llmcerr.Newf(llmcerr.KindConfigInvalid,
				"enrichment.cascade names unknown backend %q", name)
		}
		gen, err := buildGenerator(name, bc)
		if err != nil {
			return nil, err
		}
		wrapped := middleware.Wrap(gen, middleware.Config{
			RequestsPerMinute: bc.RPM,
			TokensPerMinute:   bc.TPM,
			Retry: llmcerr.RetryConfig{
				MaxAttempts: bc.RetryAttempts,
				BaseDelay:   time.Second,
				MaxDelay:    60 * time.Second,
				Jitter:      true,
			},
			Cost: costTracker(name, bc),
		})
		c.tiers = append(c.tiers, Tier{Name: name, Gen: wrapped})
	}
	return c, nil
}

// NewCascadeFromTiers wires pre-built tiers; tests use this.
func NewCascadeFromTiers(startTier string, tiers ...Tier) *Cascade {
	return &Cascade{tiers: tiers, startTier: startTier}
}

func buildGenerator(name string, bc config.BackendConfig) (backend.Generator, error) {
	switch bc.Kind {
	case "ollama":
		host := bc.Endpoint
		if host == "" {
			host = backend.DefaultOllamaHost
		}
		return backend.NewOllamaGenerator(backend.OllamaConfig{
			Host:    host,
			Model:   bc.Model,
			Timeout: bc.BackendTimeout(),
		}), nil
	case "openai":
		return backend.NewOpenAIGenerator(backend.OpenAIConfig{
			Endpoint:  bc.Endpoint,
			Model:     bc.Model,
			APIKeyEnv: bc.APIKeyEnv,
			Timeout:   bc.BackendTimeout(),
		})
	case "mock":
		return backend.NewMockGenerator(bc.Model), nil
	default:
		return nil, llmcerr.Newf(llmcerr.KindConfigInvalid,
			"enrichment.backends.%s.kind %q is not supported", name, bc.Kind)
	}
}

func costTracker(name string, bc config.BackendConfig) *middleware.CostTracker {
	if bc.InputCostPer1K == 0 && bc.OutputCostPer1K == 0 &&
		bc.DailyUSDCap == 0 && bc.MonthlyUSDCap == 0 {
		return nil // local backends have no spend to track
	}
	return middleware.NewCostTracker(name, middleware.CostConfig{
		InputCostPer1K:  bc.InputCostPer1K,
		OutputCostPer1K: bc.OutputCostPer1K,
		DailyCapUSD:     bc.DailyUSDCap,
		MonthlyCapUSD:   bc.MonthlyUSDCap,
	})
}

// Tiers returns the cascade members in order.
func (c *Cascade) Tiers() []Tier { return c.tiers }

// startIndexFor resolves a tier name to its cascade position. An empty
// or unknown name starts at the cheapest tier.
func (c *Cascade) startIndexFor(name string) int {
	if name == "" {
		name = c.startTier
	}
	for i, t := range c.tiers {
		if t.Name == name {
			return i
		}
	}
	return 0
}

// Result is one cascade answer plus the tier that produced it.
type Result struct {
	Completion *backend.Completion
	Tier       string
	Model      string
}

// Generate walks the cascade from the configured start tier. A non-nil
// validate hook runs on each tier's answer; a validation error counts
// as a parse failure and escalates like any other. Every attempt,
// failed or not, is reported through onAttempt (nil-safe) for metrics.
func (c *Cascade) Generate(ctx context.Context, req backend.Request,
	validate func(*Result) error,
	onAttempt func(tier, model string, out *backend.Completion, dur time.Duration, err error)) (*Result, error) {
	return c.GenerateFrom(ctx, "", req, validate, onAttempt)
}

// GenerateFrom is Generate with an explicit start tier, resolved by the
// router per span class.
func (c *Cascade) GenerateFrom(ctx context.Context, startTier string, req backend.Request,
	validate func(*Result) error,
	onAttempt func(tier, model string, out *backend.Completion, dur time.Duration, err error)) (*Result, error) {

	var lastErr error
	for i := c.startIndexFor(startTier); i < len(c.tiers); i++ {
		tier := c.tiers[i]
		started := time.Now()
		out, err := tier.Gen.Generate(ctx, req)
		var res *Result
		if err == nil {
			res = &Result{Completion: out, Tier: tier.Name, Model: tier.Gen.ModelID()}
			if validate != nil {
				err = validate(res)
			}
		}
		if onAttempt != nil {
			onAttempt(tier.Name, tier.Gen.ModelID(), out, time.Since(started), err)
		}
		if err == nil {
			return res, nil
		}
		lastErr = err
		if llmcerr.IsCancelled(err) || backend.Fatal(err) {
			return nil, err
		}
		if i+1 < len(c.tiers) {
			slog.Info("tier_escalated",
				slog.String("from", tier.Name),
				slog.String("to", c.tiers[i+1].Name),
				slog.String("reason", string(llmcerr.KindOf(err))))
		}
	}
	return nil, lastErr
}

// Close releases every tier's connections.
func (c *Cascade) Close() error {
	var firstErr error
	for _, t := range c.tiers {
		if err := t.Gen.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
