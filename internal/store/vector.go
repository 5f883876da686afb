package store

import (
	"context"
	"math"
	"sort"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// BruteForceCap bounds how many candidate vectors an exhaustive scan
// will score. Past this size callers go through the ANN index.
const BruteForceCap = 2048

// cosineSimilarity of two equal-length vectors. Zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SearchVector scores the query against stored vectors under profile
// and returns the top k by cosine similarity. When candidates is
// non-empty the scan is restricted to those span hashes (a lexical
// prefilter); otherwise every vector under the profile is scored.
func (s *Store) SearchVector(ctx context.Context, profile string, query []float32, k int, candidates []string) ([]VectorResult, error) {
	if k <= 0 {
		return nil, nil
	}

	allowed := make(map[string]bool, len(candidates))
	for _, h := range candidates {
		allowed[h] = true
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT span_hash, vector, dim FROM embeddings WHERE profile = ?`, profile)
	if err != nil {
		return nil, classifyStoreErr("search vector", err)
	}
	defer rows.Close()

	var results []VectorResult
	scanned := 0
	for rows.Next() {
		var hash string
		var blob []byte
		var dim int
		if err := rows.Scan(&hash, &blob, &dim); err != nil {
			return nil, err
		}
		if len(candidates) > 0 && !allowed[hash] {
			continue
		}
		if dim != len(query) {
			return nil, llmcerr.Newf(llmcerr.KindConfigInvalid,
				"query dim %d does not match profile %q dim %d", len(query), profile, dim).
				WithRemediation("re-embed the index or switch the query profile")
		}
		scanned++
		if scanned > BruteForceCap {
			return nil, llmcerr.Newf(llmcerr.KindInternal,
				"exhaustive vector scan exceeded %d candidates, use the ANN index", BruteForceCap)
		}
		results = append(results, VectorResult{
			SpanHash: hash,
			Score:    cosineSimilarity(query, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SpanHash < results[j].SpanHash
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// EmbeddingCount returns how many vectors exist under a profile.
func (s *Store) EmbeddingCount(ctx context.Context, profile string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE profile = ?`, profile).Scan(&n)
	if err != nil {
		return 0, classifyStoreErr("embedding count", err)
	}
	return n, nil
}
