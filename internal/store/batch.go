package store

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultBatchSize is the flush threshold for buffered writes.
	DefaultBatchSize = 50
	// DefaultFlushInterval flushes a non-empty partial batch.
	DefaultFlushInterval = 5 * time.Second
)

// BatchWriter coalesces enrichment and embedding writes so the
// pipeline commits at most once per batch instead of once per item.
// Items flush when the buffer reaches size or age, whichever first.
type BatchWriter struct {
	store    *Store
	size     int
	interval time.Duration

	mu          sync.Mutex
	enrichments []Enrichment
	embeddings  []Embedding

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// BatchOption configures a BatchWriter.
type BatchOption func(*BatchWriter)

// WithBatchSize overrides the flush threshold.
func WithBatchSize(n int) BatchOption {
	return func(b *BatchWriter) {
		if n > 0 {
			b.size = n
		}
	}
}

// WithFlushInterval overrides the age-based flush.
func WithFlushInterval(d time.Duration) BatchOption {
	return func(b *BatchWriter) {
		if d > 0 {
			b.interval = d
		}
	}
}

// NewBatchWriter starts the background flusher.
func NewBatchWriter(s *Store, opts ...BatchOption) *BatchWriter {
	b := &BatchWriter{
		store:    s,
		size:     DefaultBatchSize,
		interval: DefaultFlushInterval,
		flushCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// AddEnrichment buffers one enrichment.
func (b *BatchWriter) AddEnrichment(e Enrichment) {
	b.mu.Lock()
	b.enrichments = append(b.enrichments, e)
	full := len(b.enrichments)+len(b.embeddings) >= b.size
	b.mu.Unlock()
	if full {
		b.signal()
	}
}

// AddEmbedding buffers one embedding.
func (b *BatchWriter) AddEmbedding(e Embedding) {
	b.mu.Lock()
	b.embeddings = append(b.embeddings, e)
	full := len(b.enrichments)+len(b.embeddings) >= b.size
	b.mu.Unlock()
	if full {
		b.signal()
	}
}

func (b *BatchWriter) signal() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

func (b *BatchWriter) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-b.flushCh:
			b.flush()
		case <-ticker.C:
			b.flush()
		}
	}
}

// Flush forces a synchronous flush of everything buffered. On failure
// the batch stays queued for the next attempt.
func (b *BatchWriter) Flush() error { return b.flush() }

// Buffered returns how many items wait for the next flush.
func (b *BatchWriter) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.enrichments) + len(b.embeddings)
}

func (b *BatchWriter) flush() error {
	b.mu.Lock()
	enrichments := b.enrichments
	embeddings := b.embeddings
	b.enrichments = nil
	b.embeddings = nil
	b.mu.Unlock()

	if len(enrichments) == 0 && len(embeddings) == 0 {
		return nil
	}

	// One transaction per flush: the whole batch commits together.
	err := b.store.PutBatch(context.Background(), enrichments, embeddings)
	if err != nil {
		// Requeue at the front: the batch cost real model calls to
		// produce and must survive a failed commit.
		b.mu.Lock()
		b.enrichments = append(enrichments, b.enrichments...)
		b.embeddings = append(embeddings, b.embeddings...)
		b.mu.Unlock()
		slog.Error("batch_flush_failed",
			slog.Int("enrichments", len(enrichments)),
			slog.Int("embeddings", len(embeddings)),
			slog.String("error", err.Error()))
		return err
	}
	slog.Debug("batch_flushed",
		slog.Int("enrichments", len(enrichments)),
		slog.Int("embeddings", len(embeddings)))
	return nil
}

// PutBatch writes a mixed batch in one transaction.
func (s *Store) PutBatch(ctx context.Context, enrichments []Enrichment, embeddings []Embedding) error {
	if len(enrichments) == 0 && len(embeddings) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range enrichments {
			if err := putEnrichmentTx(ctx, tx, e); err != nil {
				return err
			}
		}
		for _, e := range embeddings {
			if err := putEmbeddingTx(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops the flusher and flushes the remainder.
func (b *BatchWriter) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
	b.wg.Wait()
	return b.flush()
}
