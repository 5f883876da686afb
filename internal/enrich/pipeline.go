package enrich

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vmlinuzx/llmc-sub012/internal/backend"
	"github.com/vmlinuzx/llmc-sub012/internal/config"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/logging"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

const (
	defaultMaxSpansPerCycle = 50
	defaultConcurrency      = 4
	// failureCooldown keeps a failed span out of selection long enough
	// for transient backend trouble to clear.
	failureCooldown = time.Hour
)

// Report summarizes one enrichment cycle.
type Report struct {
	Selected  int
	Enriched  int
	Failed    int
	Batches   int
	Fallbacks int // batches that degraded to per-span requests
	Duration  time.Duration
}

// Pipeline drives one enrichment cycle: select pending spans, batch
// adjacent ones, run the cascade, validate, persist.
type Pipeline struct {
	store   *store.Store
	cascade *Cascade
	writer  *store.BatchWriter
	metrics *logging.MetricsWriter

	batchSize        int
	maxSpansPerCycle int
	cooldown         time.Duration
	maxLineGap       int
	concurrency      int
	startTierFor     func(store.PendingSpan) string
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMetrics attaches the per-attempt JSONL stream.
func WithMetrics(m *logging.MetricsWriter) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStartTierFunc installs the router's per-span tier selection; an
// empty answer starts at the cascade front.
func WithStartTierFunc(fn func(store.PendingSpan) string) PipelineOption {
	return func(p *Pipeline) { p.startTierFor = fn }
}

// WithConcurrency bounds in-flight cascade requests.
func WithConcurrency(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPipeline wires the pipeline from configuration.
func NewPipeline(s *store.Store, cascade *Cascade, cfg config.EnrichmentConfig, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:            s,
		cascade:          cascade,
		writer:           store.NewBatchWriter(s),
		batchSize:        cfg.BatchSize,
		maxSpansPerCycle: cfg.MaxSpansPerCycle,
		cooldown:         time.Duration(cfg.CooldownSeconds) * time.Second,
		maxLineGap:       cfg.MaxLineGap,
		concurrency:      defaultConcurrency,
	}
	if p.batchSize < 1 {
		p.batchSize = 1
	}
	if p.maxSpansPerCycle <= 0 {
		p.maxSpansPerCycle = defaultMaxSpansPerCycle
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close flushes buffered writes.
func (p *Pipeline) Close() error {
	return p.writer.Close()
}

// Run executes one cycle. It returns early on context cancellation;
// per-span failures are recorded, not returned.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	started := time.Now()

	pending, err := p.store.PendingEnrichments(ctx, p.maxSpansPerCycle, p.cooldown)
	if err != nil {
		return nil, err
	}
	report := &Report{Selected: len(pending)}
	if len(pending) == 0 {
		report.Duration = time.Since(started)
		return report, nil
	}

	batches := p.groupBatches(pending)
	report.Batches = len(batches)

	type outcome struct {
		enriched, failed, fallbacks int
	}
	results := make([]outcome, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			enriched, fellBack, err := p.processBatch(gctx, batch)
			if err != nil && llmcerr.IsCancelled(err) {
				return err
			}
			results[i].enriched = enriched
			results[i].failed = len(batch) - enriched
			if fellBack {
				results[i].fallbacks = 1
			}
			return nil
		})
	}
	err = g.Wait()
	flushErr := p.writer.Flush()

	for _, r := range results {
		report.Enriched += r.enriched
		report.Failed += r.failed
		report.Fallbacks += r.fallbacks
	}
	report.Duration = time.Since(started)

	slog.Info("enrichment_cycle_completed",
		slog.Int("selected", report.Selected),
		slog.Int("enriched", report.Enriched),
		slog.Int("failed", report.Failed),
		slog.Int("batches", report.Batches),
		slog.Duration("duration", report.Duration))
	if err != nil && llmcerr.IsCancelled(err) {
		return report, err
	}
	if flushErr != nil {
		// The batch is requeued inside the writer; the cycle still
		// failed to land its results.
		return report, flushErr
	}
	return report, nil
}

// groupBatches packs adjacent spans from the same file into batches of
// up to batchSize, as long as consecutive spans sit within maxLineGap
// lines of each other. Selection order already clusters spans by file.
func (p *Pipeline) groupBatches(pending []store.PendingSpan) [][]store.PendingSpan {
	var batches [][]store.PendingSpan
	var cur []store.PendingSpan
	for _, ps := range pending {
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			sameFile := prev.FilePath == ps.FilePath
			near := ps.Span.StartLine-prev.Span.EndLine <= p.maxLineGap
			if len(cur) >= p.batchSize || !sameFile || !near {
				batches = append(batches, cur)
				cur = nil
			}
		}
		cur = append(cur, ps)
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// processBatch enriches one batch. A malformed batch answer degrades
// to per-span requests before the batch is counted as failed.
func (p *Pipeline) processBatch(ctx context.Context, batch []store.PendingSpan) (enriched int, fellBack bool, err error) {
	if len(batch) == 1 {
		ok, err := p.processSingle(ctx, batch[0])
		if ok {
			enriched = 1
		}
		return enriched, false, err
	}

	var enrichments []store.Enrichment
	req := backend.Request{System: systemPrompt + "\n\n" + batchInstruction, Prompt: batchPrompt(batch)}
	_, err = p.cascade.GenerateFrom(ctx, p.startTier(batch[0]), req, func(r *Result) error {
		var perr error
		enrichments, perr = parseBatch(r.Completion.Text, batch, r.Model)
		return perr
	}, p.attemptRecorder(batch[0].Span.Hash, true))
	if err != nil {
		if llmcerr.IsCancelled(err) {
			return 0, false, err
		}
		if llmcerr.IsKind(err, llmcerr.KindBackendParse) {
			// No tier produced a well-formed array: retry each span on
			// its own.
			slog.Warn("batch_fallback",
				slog.String("file", batch[0].FilePath),
				slog.Int("spans", len(batch)),
				slog.String("reason", err.Error()))
			for _, ps := range batch {
				ok, serr := p.processSingle(ctx, ps)
				if serr != nil && llmcerr.IsCancelled(serr) {
					return enriched, true, serr
				}
				if ok {
					enriched++
				}
			}
			return enriched, true, nil
		}
		p.recordBatchFailure(ctx, batch, err)
		return 0, false, nil
	}

	for _, e := range enrichments {
		p.persist(ctx, e)
		enriched++
	}
	return enriched, false, nil
}

func (p *Pipeline) processSingle(ctx context.Context, ps store.PendingSpan) (bool, error) {
	var enrichment *store.Enrichment
	req := backend.Request{System: systemPrompt, Prompt: singlePrompt(ps)}
	_, err := p.cascade.GenerateFrom(ctx, p.startTier(ps), req, func(r *Result) error {
		var perr error
		enrichment, perr = parseSingle(r.Completion.Text, ps, r.Model)
		return perr
	}, p.attemptRecorder(ps.Span.Hash, false))
	if err != nil {
		if llmcerr.IsCancelled(err) {
			return false, err
		}
		p.recordFailure(ctx, ps, "", err)
		return false, nil
	}
	p.persist(ctx, *enrichment)
	return true, nil
}

// startTier asks the router where this span's cascade begins.
func (p *Pipeline) startTier(ps store.PendingSpan) string {
	if p.startTierFor == nil {
		return ""
	}
	return p.startTierFor(ps)
}

func (p *Pipeline) persist(ctx context.Context, e store.Enrichment) {
	p.writer.AddEnrichment(e)
	if err := p.store.ClearFailures(ctx, e.SpanHash); err != nil {
		slog.Warn("clear_failures_failed",
			slog.String("span_hash", e.SpanHash), slog.String("error", err.Error()))
	}
}

func (p *Pipeline) recordBatchFailure(ctx context.Context, batch []store.PendingSpan, err error) {
	for _, ps := range batch {
		p.recordFailure(ctx, ps, "", err)
	}
}

func (p *Pipeline) recordFailure(ctx context.Context, ps store.PendingSpan, tier string, cause error) {
	if tier == "" {
		tier = "cascade"
	}
	rec := store.FailureRecord{
		SpanHash:      ps.Span.Hash,
		Tier:          tier,
		Reason:        string(llmcerr.KindOf(cause)),
		Attempts:      1,
		CooldownUntil: time.Now().Add(failureCooldown),
	}
	if err := p.store.RecordFailure(ctx, rec); err != nil {
		slog.Warn("record_failure_failed",
			slog.String("span_hash", ps.Span.Hash), slog.String("error", err.Error()))
	}
	slog.Debug("span_enrichment_failed",
		slog.String("span_hash", ps.Span.Hash),
		slog.String("file", ps.FilePath),
		slog.String("reason", string(llmcerr.KindOf(cause))))
}

// attemptRecorder feeds the metrics stream one line per tier attempt.
func (p *Pipeline) attemptRecorder(spanHash string, batch bool) func(tier, model string, out *backend.Completion, dur time.Duration, err error) {
	if p.metrics == nil {
		return nil
	}
	return func(tier, model string, out *backend.Completion, dur time.Duration, err error) {
		ev := logging.EnrichmentEvent{
			SpanHash:   spanHash,
			Tier:       tier,
			Model:      model,
			DurationMS: dur.Milliseconds(),
			Success:    err == nil,
			Batch:      batch,
		}
		if out != nil {
			ev.TokensIn = out.TokensIn
			ev.TokensOut = out.TokensOut
		}
		if err != nil {
			ev.Reason = string(llmcerr.KindOf(err))
		}
		p.metrics.Record(ev)
	}
}
