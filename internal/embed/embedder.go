// Package embed turns spans into vectors. Providers sit behind the
// Embedder contract; the Service selects spans lacking vectors under a
// profile, prefers enrichment summaries as input, and persists the
// results in batches.
package embed

import (
	"context"
	"fmt"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// Embedder produces fixed-dimension vectors for text inputs.
type Embedder interface {
	// Embed returns one vector per input, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// ProviderID identifies provider and model, e.g. ollama/nomic-embed-text.
	// Stored alongside vectors so model switches can be detected.
	ProviderID() string
	Dim() int
	Close() error
}

// NewEmbedder builds the provider an embedding profile names.
func NewEmbedder(p config.Profile, ollamaHost string) (Embedder, error) {
	switch p.Provider {
	case "ollama":
		return NewOllamaEmbedder(OllamaEmbedderConfig{
			Host:  ollamaHost,
			Model: p.Model,
			Dim:   p.Dim,
		}), nil
	case "static":
		return NewStaticEmbedder(p.Dim), nil
	default:
		return nil, llmcerr.Newf(llmcerr.KindConfigInvalid,
			"embedding provider %q is not supported", p.Provider).
			WithRemediation(fmt.Sprintf("use ollama or static in embeddings.profiles for model %q", p.Model))
	}
}
