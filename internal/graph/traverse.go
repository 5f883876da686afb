package graph

import (
	"context"
	"sort"
	"strings"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

// Direction selects which way lineage walks the edges.
type Direction string

const (
	// Upstream follows edges pointing AT the seed: callers, importers,
	// subclasses. "What depends on this."
	Upstream Direction = "upstream"
	// Downstream follows edges leaving the seed: callees, imports,
	// superclasses. "What this depends on."
	Downstream Direction = "downstream"
)

// Node is one lineage hit.
type Node struct {
	Entity   store.Entity `json:"entity"`
	EdgeType string       `json:"edge_type"`
	Depth    int          `json:"depth"`
}

// Slice is a lineage result: the seed plus everything reachable within
// depth, each node at its shortest distance.
type Slice struct {
	Seed  store.Entity `json:"seed"`
	Nodes []Node       `json:"nodes"`
}

// Traverser answers graph queries against the store.
type Traverser struct {
	store *store.Store
}

// NewTraverser wraps the store.
func NewTraverser(s *store.Store) *Traverser {
	return &Traverser{store: s}
}

// FindSymbol locates the entity for a user-supplied symbol name, which
// may be bare ("login"), qualified ("auth.login"), or a full entity ID.
func (t *Traverser) FindSymbol(ctx context.Context, symbol string) (*store.Entity, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, llmcerr.New(llmcerr.KindConfigInvalid, "empty symbol")
	}
	if strings.HasPrefix(symbol, "sym:") || strings.HasPrefix(symbol, "mod:") {
		return t.store.GetEntity(ctx, symbol)
	}
	if ent, err := t.store.GetEntity(ctx, "sym:"+symbol); err != nil {
		return nil, err
	} else if ent != nil {
		return ent, nil
	}

	last := symbol
	if dot := strings.LastIndexByte(symbol, '.'); dot >= 0 {
		last = symbol[dot+1:]
	}
	matches, err := t.store.FindEntities(ctx, "sym:%."+escapeLike(last))
	if err != nil {
		return nil, err
	}
	var hits []store.Entity
	for _, m := range matches {
		if strings.HasSuffix(m.ID, "."+symbol) || strings.HasSuffix(m.ID, "."+last) {
			hits = append(hits, m)
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}
	// Prefer the tightest match; ties resolve alphabetically for
	// deterministic output.
	sort.Slice(hits, func(i, j int) bool {
		iExact := strings.HasSuffix(hits[i].ID, "."+symbol)
		jExact := strings.HasSuffix(hits[j].ID, "."+symbol)
		if iExact != jExact {
			return iExact
		}
		return hits[i].ID < hits[j].ID
	})
	return &hits[0], nil
}

// WhereUsed returns entities referencing the symbol: direct inbound
// edges of any kind, callers first.
func (t *Traverser) WhereUsed(ctx context.Context, symbolID string, limit int) ([]Node, error) {
	rows, err := t.store.DB().QueryContext(ctx, `
		SELECT e.id, e.kind, e.path_ref, r.edge_type
		FROM relations r JOIN entities e ON e.id = r.src_id
		WHERE r.dst_id = ? AND r.edge_type != 'defines'
		ORDER BY CASE r.edge_type WHEN 'calls' THEN 0 ELSE 1 END, e.id
		LIMIT ?`, symbolID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.Entity.ID, &n.Entity.Kind, &n.Entity.PathRef, &n.EdgeType); err != nil {
			return nil, err
		}
		n.Depth = 1
		out = append(out, n)
	}
	return out, rows.Err()
}

// Lineage walks from the seed in one direction up to depth hops.
func (t *Traverser) Lineage(ctx context.Context, seedID string, dir Direction, depth int) (*Slice, error) {
	if dir != Upstream && dir != Downstream {
		return nil, llmcerr.Newf(llmcerr.KindConfigInvalid,
			"direction must be %q or %q, got %q", Upstream, Downstream, dir)
	}
	if depth <= 0 {
		depth = 1
	}
	seed, err := t.store.GetEntity(ctx, seedID)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		return nil, nil
	}

	slice := &Slice{Seed: *seed}
	visited := map[string]bool{seedID: true}
	frontier := []string{seedID}

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			query := `
				SELECT e.id, e.kind, e.path_ref, r.edge_type
				FROM relations r JOIN entities e ON e.id = r.dst_id
				WHERE r.src_id = ? AND r.edge_type != 'defines'
				ORDER BY e.id`
			if dir == Upstream {
				query = `
					SELECT e.id, e.kind, e.path_ref, r.edge_type
					FROM relations r JOIN entities e ON e.id = r.src_id
					WHERE r.dst_id = ? AND r.edge_type != 'defines'
					ORDER BY e.id`
			}
			rows, err := t.store.DB().QueryContext(ctx, query, id)
			if err != nil {
				return nil, err
			}
			var batch []Node
			for rows.Next() {
				var n Node
				if err := rows.Scan(&n.Entity.ID, &n.Entity.Kind, &n.Entity.PathRef, &n.EdgeType); err != nil {
					rows.Close()
					return nil, err
				}
				n.Depth = hop
				batch = append(batch, n)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, err
			}
			for _, n := range batch {
				if visited[n.Entity.ID] {
					continue
				}
				visited[n.Entity.ID] = true
				slice.Nodes = append(slice.Nodes, n)
				next = append(next, n.Entity.ID)
			}
		}
		frontier = next
	}
	return slice, nil
}

// GraphDistance returns the hop distance from any of the seeds to each
// reachable entity within maxHops, following edges both ways. The
// retriever folds these distances into the fusion score.
func (t *Traverser) GraphDistance(ctx context.Context, seedIDs []string, maxHops int, edgeTypes []string) (map[string]int, error) {
	distances := make(map[string]int)
	for _, seed := range seedIDs {
		neighbors, err := t.store.Neighbors(ctx, seed, maxHops, edgeTypes)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if d, ok := distances[n.Entity.ID]; !ok || n.Distance < d {
				distances[n.Entity.ID] = n.Distance
			}
		}
	}
	return distances, nil
}
