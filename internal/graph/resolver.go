package graph

import (
	"context"
	"strings"

	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

// StoreResolver resolves references against entities already in the
// index store. Ambiguous matches resolve to nothing: a wrong edge is
// worse than a missing one.
type StoreResolver struct {
	store *store.Store
}

// NewStoreResolver wraps the store for cross-file resolution.
func NewStoreResolver(s *store.Store) *StoreResolver {
	return &StoreResolver{store: s}
}

func (r *StoreResolver) ResolveSymbol(ctx context.Context, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	// Fully qualified: sym:<module>.<symbol> is an exact hit.
	if ent, err := r.store.GetEntity(ctx, "sym:"+name); err == nil && ent != nil {
		return ent.ID, true
	}
	// Otherwise match by trailing segment.
	last := name
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		last = name[dot+1:]
	}
	matches, err := r.store.FindEntities(ctx, "sym:%."+escapeLike(last))
	if err != nil {
		return "", false
	}
	var hits []store.Entity
	for _, m := range matches {
		if strings.HasSuffix(m.ID, "."+last) {
			hits = append(hits, m)
		}
	}
	if len(hits) == 1 {
		return hits[0].ID, true
	}
	return "", false
}

func (r *StoreResolver) ResolveModule(ctx context.Context, dotted string) (string, bool) {
	if dotted == "" {
		return "", false
	}
	// Module entity IDs carry the file path; the dotted name is in
	// metadata. pkg.auth -> files under pkg/auth.*
	slashed := strings.ReplaceAll(dotted, ".", "/")
	matches, err := r.store.FindEntities(ctx, "mod:"+escapeLike(slashed)+".%")
	if err != nil {
		return "", false
	}
	var hits []store.Entity
	for _, m := range matches {
		if m.Metadata["module"] == dotted {
			hits = append(hits, m)
		}
	}
	if len(hits) == 1 {
		return hits[0].ID, true
	}
	return "", false
}

// escapeLike strips the wildcard metacharacter from identifier-derived
// patterns. Underscores stay: they overmatch single characters, and
// the exact post-filter above discards false hits.
func escapeLike(s string) string {
	return strings.ReplaceAll(s, "%", "")
}

var _ Resolver = (*StoreResolver)(nil)
