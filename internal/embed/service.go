package embed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

const (
	defaultBatchSize   = 32
	defaultMaxPerCycle = 256
	// maxInputBytes truncates oversized span content before embedding.
	// Summaries never come close; raw spans occasionally do.
	maxInputBytes = 8192
)

// Report summarizes one embedding cycle for a profile.
type Report struct {
	Profile     string
	Pending     int
	Embedded    int
	Failed      int
	Invalidated int // vectors dropped after a model switch
	Duration    time.Duration
}

// Service fills in missing vectors per profile. Enrichment summaries
// embed better than raw code, so spans that have one use it.
type Service struct {
	store     *store.Store
	writer    *store.BatchWriter
	embedders map[string]Embedder
	profiles  map[string]config.Profile

	batchSize   int
	maxPerCycle int
	ttl         time.Duration
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithMaxPerCycle bounds spans embedded per Run.
func WithMaxPerCycle(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxPerCycle = n
		}
	}
}

// WithEmbedder overrides the embedder for one profile; tests use this.
func WithEmbedder(profile string, e Embedder) ServiceOption {
	return func(s *Service) { s.embedders[profile] = e }
}

// NewService builds embedders for every configured profile.
func NewService(st *store.Store, cfg config.EmbeddingsConfig, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		store:       st,
		writer:      store.NewBatchWriter(st),
		embedders:   make(map[string]Embedder, len(cfg.Profiles)),
		profiles:    cfg.Profiles,
		batchSize:   cfg.BatchSize,
		maxPerCycle: defaultMaxPerCycle,
		ttl:         time.Duration(cfg.EmbedTTLHours) * time.Hour,
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	for name, p := range cfg.Profiles {
		e, err := NewEmbedder(p, cfg.OllamaHost)
		if err != nil {
			return nil, err
		}
		s.embedders[name] = e
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close flushes buffered writes and releases embedder connections.
func (s *Service) Close() error {
	err := s.writer.Close()
	for _, e := range s.embedders {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// RunAll runs one cycle per configured profile.
func (s *Service) RunAll(ctx context.Context) ([]*Report, error) {
	reports := make([]*Report, 0, len(s.embedders))
	for name := range s.profiles {
		r, err := s.Run(ctx, name)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Run fills missing vectors for one profile. A model or dimension
// switch drops the profile's stored vectors first.
func (s *Service) Run(ctx context.Context, profile string) (*Report, error) {
	started := time.Now()
	emb, ok := s.embedders[profile]
	if !ok {
		return nil, llmcerr.Newf(llmcerr.KindConfigInvalid,
			"embedding profile %q is not configured", profile)
	}
	report := &Report{Profile: profile}

	stored, storedDim, err := s.store.ProfileProvider(ctx, profile)
	if err != nil {
		return nil, err
	}
	if stored != "" && (stored != emb.ProviderID() || storedDim != emb.Dim()) {
		dropped, err := s.store.InvalidateProfile(ctx, profile)
		if err != nil {
			return nil, err
		}
		report.Invalidated = dropped
		slog.Warn("profile_invalidated",
			slog.String("profile", profile),
			slog.String("was", stored),
			slog.String("now", emb.ProviderID()),
			slog.Int("dropped", dropped))
	}

	pending, err := s.store.PendingEmbeddings(ctx, profile, s.maxPerCycle)
	if err != nil {
		return nil, err
	}
	report.Pending = len(pending)

	for start := 0; start < len(pending); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return report, llmcerr.Wrap(llmcerr.KindCancelled, "embedding cycle", err)
		}
		end := min(start+s.batchSize, len(pending))
		batch := pending[start:end]

		inputs, err := s.inputTexts(ctx, batch)
		if err != nil {
			return report, err
		}
		vectors, err := emb.Embed(ctx, inputs)
		if err != nil {
			if llmcerr.IsCancelled(err) {
				return report, err
			}
			report.Failed += len(batch)
			slog.Warn("embed_batch_failed",
				slog.String("profile", profile),
				slog.Int("spans", len(batch)),
				slog.String("error", err.Error()))
			continue
		}
		for i, v := range vectors {
			s.writer.AddEmbedding(store.Embedding{
				SpanHash:   batch[i].Span.Hash,
				Profile:    profile,
				Vector:     v,
				Dim:        len(v),
				ProviderID: emb.ProviderID(),
			})
			report.Embedded++
		}
	}
	if err := s.writer.Flush(); err != nil {
		return report, err
	}
	report.Duration = time.Since(started)

	slog.Info("embedding_cycle_completed",
		slog.String("profile", profile),
		slog.Int("pending", report.Pending),
		slog.Int("embedded", report.Embedded),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// inputTexts picks what to embed per span: symbol plus enrichment
// summary when one exists, raw content otherwise.
func (s *Service) inputTexts(ctx context.Context, batch []store.PendingSpan) ([]string, error) {
	hashes := make([]string, len(batch))
	for i, ps := range batch {
		hashes[i] = ps.Span.Hash
	}
	enrichments, err := s.store.GetEnrichments(ctx, hashes)
	if err != nil {
		return nil, err
	}

	inputs := make([]string, len(batch))
	for i, ps := range batch {
		var b strings.Builder
		if ps.Span.SymbolName != "" {
			b.WriteString(ps.Span.SymbolName)
			b.WriteString("\n")
		}
		if e := enrichments[ps.Span.Hash]; e != nil && e.Summary != "" {
			b.WriteString(e.Summary)
		} else {
			b.WriteString(ps.Span.Content)
		}
		text := b.String()
		if len(text) > maxInputBytes {
			text = text[:maxInputBytes]
		}
		inputs[i] = text
	}
	return inputs, nil
}
