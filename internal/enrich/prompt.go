// Package enrich runs the LLM enrichment pipeline: pending spans are
// batched into prompts, sent through the backend cascade, validated,
// and persisted as enrichment rows keyed by span hash.
package enrich

import (
	"fmt"
	"strings"

	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

const systemPrompt = `You document source code and prose spans for a retrieval index.
Respond with JSON only, no prose around it.

For each span produce an object with these fields:
  "summary":       what the span does, at most 120 words
  "inputs":        parameter or data inputs, short phrases, [] if none
  "outputs":       return values or produced data, [] if none
  "side_effects":  IO, mutations, network calls, [] if none
  "pitfalls":      gotchas a caller should know, [] if none
  "usage_snippet": a one-line usage example, or ""
  "evidence":      line ranges inside the span backing the summary,
                   as [{"start": N, "end": M}] with 1-based lines, [] if none`

const batchInstruction = `Respond with a JSON array, one object per span, in the order given.
Each object additionally carries "index" matching the span's Span N header.`

// singlePrompt renders one span for enrichment.
func singlePrompt(p store.PendingSpan) string {
	var b strings.Builder
	writeSpan(&b, -1, p)
	return b.String()
}

// batchPrompt renders several adjacent spans from the same file as one
// request. The model answers with a JSON array in span order.
func batchPrompt(batch []store.PendingSpan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d spans from %s follow.\n\n", len(batch), batch[0].FilePath)
	for i, p := range batch {
		writeSpan(&b, i, p)
		b.WriteString("\n")
	}
	return b.String()
}

func writeSpan(b *strings.Builder, index int, p store.PendingSpan) {
	if index >= 0 {
		fmt.Fprintf(b, "Span %d\n", index)
	}
	fmt.Fprintf(b, "File: %s\n", p.FilePath)
	if p.Span.SymbolName != "" {
		fmt.Fprintf(b, "Symbol: %s\n", p.Span.SymbolName)
	}
	fmt.Fprintf(b, "Kind: %s\nLanguage: %s\nLines %d-%d:\n",
		p.Span.Kind, p.Span.Language, p.Span.StartLine, p.Span.EndLine)
	b.WriteString("```\n")
	b.WriteString(p.Span.Content)
	if !strings.HasSuffix(p.Span.Content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
}
