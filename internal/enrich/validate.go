package enrich

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/vmlinuzx/llmc-sub012/internal/backend"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

// maxSummaryWords caps the summary length; longer answers are
// truncated rather than rejected, the model already paid for them.
const maxSummaryWords = 120

// payload is the wire shape the model answers with.
type payload struct {
	Index        int              `json:"index"`
	Summary      string           `json:"summary"`
	Inputs       []string         `json:"inputs"`
	Outputs      []string         `json:"outputs"`
	SideEffects  []string         `json:"side_effects"`
	Pitfalls     []string         `json:"pitfalls"`
	UsageSnippet string           `json:"usage_snippet"`
	Evidence     []store.LineSpan `json:"evidence"`
}

// parseSingle extracts and validates one enrichment from a model
// response.
func parseSingle(text string, p store.PendingSpan, modelID string) (*store.Enrichment, error) {
	raw, err := backend.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var pl payload
	if err := json.Unmarshal([]byte(raw), &pl); err != nil {
		// Some models wrap a single answer in a one-element array.
		var arr []payload
		if err2 := json.Unmarshal([]byte(raw), &arr); err2 != nil || len(arr) != 1 {
			return nil, llmcerr.Wrap(llmcerr.KindBackendParse, "decode enrichment", err)
		}
		pl = arr[0]
	}
	return toEnrichment(pl, p, modelID)
}

// parseBatch extracts a JSON array answering a batch prompt. The array
// must cover every span exactly once; anything else fails the whole
// batch so the caller can fall back to per-span requests.
func parseBatch(text string, batch []store.PendingSpan, modelID string) ([]store.Enrichment, error) {
	raw, err := backend.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var arr []payload
	if err := json.Unmarshal([]byte(raw), &arr); err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindBackendParse, "decode enrichment batch", err)
	}
	if len(arr) != len(batch) {
		return nil, llmcerr.Newf(llmcerr.KindBackendParse,
			"batch answer has %d items, want %d", len(arr), len(batch))
	}

	out := make([]store.Enrichment, 0, len(batch))
	seen := make(map[int]bool, len(batch))
	for i, pl := range arr {
		idx := pl.Index
		if idx < 0 || idx >= len(batch) || seen[idx] {
			// Fall back to positional order when indices are absent
			// or nonsensical.
			idx = i
			if seen[idx] {
				return nil, llmcerr.Newf(llmcerr.KindBackendParse,
					"batch answer repeats span %d", idx)
			}
		}
		seen[idx] = true
		e, err := toEnrichment(pl, batch[idx], modelID)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

func toEnrichment(pl payload, p store.PendingSpan, modelID string) (*store.Enrichment, error) {
	summary := strings.TrimSpace(pl.Summary)
	if summary == "" {
		return nil, llmcerr.New(llmcerr.KindBackendParse, "enrichment summary is empty")
	}
	if words := strings.Fields(summary); len(words) > maxSummaryWords {
		summary = strings.Join(words[:maxSummaryWords], " ")
	}

	lineCount := p.Span.EndLine - p.Span.StartLine + 1
	evidence := make([]store.LineSpan, 0, len(pl.Evidence))
	for _, ev := range pl.Evidence {
		if ev.Start < 1 || ev.End < ev.Start || ev.End > lineCount {
			// Drop out-of-range evidence instead of failing the span.
			continue
		}
		evidence = append(evidence, ev)
	}

	return &store.Enrichment{
		SpanHash:     p.Span.Hash,
		Summary:      summary,
		Inputs:       emptyNotNil(pl.Inputs),
		Outputs:      emptyNotNil(pl.Outputs),
		SideEffects:  emptyNotNil(pl.SideEffects),
		Pitfalls:     emptyNotNil(pl.Pitfalls),
		UsageSnippet: strings.TrimSpace(pl.UsageSnippet),
		Evidence:     evidence,
		ModelID:      modelID,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
