package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EnrichmentEvent is one line of the append-only enrichment metrics
// stream at <repo>/logs/enrichment_metrics.jsonl.
type EnrichmentEvent struct {
	TS         time.Time `json:"ts"`
	SpanHash   string    `json:"span_hash"`
	Tier       string    `json:"tier"`
	Model      string    `json:"model"`
	TokensIn   int       `json:"tokens_in"`
	TokensOut  int       `json:"tokens_out"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
	Batch      bool      `json:"batch,omitempty"`
}

// MetricsWriter appends newline-delimited JSON events. Writes are
// serialized; a failed write is logged to stderr, never fatal.
type MetricsWriter struct {
	mu   sync.Mutex
	file *os.File
}

// NewMetricsWriter opens (creating if needed) the metrics file.
func NewMetricsWriter(path string) (*MetricsWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metrics directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metrics file: %w", err)
	}
	return &MetricsWriter{file: f}, nil
}

// Record appends one event. The timestamp is filled in when zero.
func (m *MetricsWriter) Record(ev EnrichmentEvent) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return
	}
	if _, err := m.file.Write(append(line, '\n')); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "metrics write failed: %v\n", err)
	}
}

// Close closes the underlying file.
func (m *MetricsWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
