package store

import (
	"context"
	"sync"

	"github.com/coder/hnsw"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// ANNIndex is an in-memory HNSW graph over one profile's vectors. The
// SQLite embeddings table stays the source of truth; the graph is
// rebuilt from it on startup and kept current by the writer.
type ANNIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	profile string
	dim     int

	hashKey map[string]uint64
	keyHash map[uint64]string
	nextKey uint64
	orphans int
}

// NewANNIndex builds the graph for a profile from the stored vectors.
func (s *Store) NewANNIndex(ctx context.Context, profile string) (*ANNIndex, error) {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 32
	graph.Ml = 0.25

	idx := &ANNIndex{
		graph:   graph,
		profile: profile,
		hashKey: make(map[string]uint64),
		keyHash: make(map[uint64]string),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT span_hash, vector, dim FROM embeddings WHERE profile = ?`, profile)
	if err != nil {
		return nil, classifyStoreErr("load ann index", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var blob []byte
		var dim int
		if err := rows.Scan(&hash, &blob, &dim); err != nil {
			return nil, err
		}
		if idx.dim == 0 {
			idx.dim = dim
		}
		idx.add(hash, decodeVector(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Upsert inserts or replaces a vector in the graph.
func (a *ANNIndex) Upsert(hash string, vec []float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dim != 0 && len(vec) != a.dim {
		return llmcerr.Newf(llmcerr.KindInternal,
			"ann index holds %d-dim vectors, got %d", a.dim, len(vec))
	}
	if a.dim == 0 {
		a.dim = len(vec)
	}
	a.add(hash, vec)
	return nil
}

// add assumes the lock is held. Replacement is lazy: the old node stays
// in the graph but loses its hash mapping, so it never surfaces in
// results. Deleting nodes from coder/hnsw is not reliable when the
// graph is small.
func (a *ANNIndex) add(hash string, vec []float32) {
	if oldKey, ok := a.hashKey[hash]; ok {
		delete(a.keyHash, oldKey)
		a.orphans++
	}
	key := a.nextKey
	a.nextKey++
	a.graph.Add(hnsw.MakeNode(key, vec))
	a.hashKey[hash] = key
	a.keyHash[key] = hash
}

// Remove drops a hash from the index (lazy, mapping only).
func (a *ANNIndex) Remove(hash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if key, ok := a.hashKey[hash]; ok {
		delete(a.keyHash, key)
		delete(a.hashKey, hash)
		a.orphans++
	}
}

// Search returns the approximate top k by cosine similarity.
func (a *ANNIndex) Search(query []float32, k int) ([]VectorResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.graph.Len() == 0 {
		return nil, nil
	}
	if a.dim != 0 && len(query) != a.dim {
		return nil, llmcerr.Newf(llmcerr.KindInternal,
			"ann query dim %d does not match index dim %d", len(query), a.dim)
	}

	// Overfetch to cover lazily deleted nodes.
	nodes := a.graph.Search(query, k+a.orphans)
	results := make([]VectorResult, 0, k)
	for _, node := range nodes {
		hash, ok := a.keyHash[node.Key]
		if !ok {
			continue
		}
		dist := a.graph.Distance(query, node.Value)
		results = append(results, VectorResult{
			SpanHash: hash,
			Score:    float64(1 - dist/2), // cosine distance 0..2 -> similarity 0..1
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Len returns the number of live vectors.
func (a *ANNIndex) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.hashKey)
}

// Orphans returns how many lazily deleted nodes remain in the graph.
// Callers rebuild the index when this grows past their threshold.
func (a *ANNIndex) Orphans() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.orphans
}
