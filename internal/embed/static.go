package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// StaticEmbedder hashes tokens into a fixed-dimension bag-of-words
// vector. Deterministic and offline: the same text always embeds to
// the same vector, which is all the tests and air-gapped setups need.
type StaticEmbedder struct {
	dim int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder builds a hashing embedder.
func NewStaticEmbedder(dim int) *StaticEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &StaticEmbedder{dim: dim}
}

func (e *StaticEmbedder) ProviderID() string { return fmt.Sprintf("static/%d", e.dim) }
func (e *StaticEmbedder) Dim() int           { return e.dim }
func (e *StaticEmbedder) Close() error       { return nil }

func (e *StaticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, e.embedOne(text))
	}
	return out, nil
}

func (e *StaticEmbedder) embedOne(text string) []float32 {
	v := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		// Sign from one hash bit keeps buckets from only accumulating,
		// which would bias every vector toward the same orthant.
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		v[sum%uint32(e.dim)] += sign
	}
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
