// Package graph turns extractor output into the symbol graph and
// answers traversal queries over it. Nodes and edges live in the index
// store; this package owns their construction and walking.
package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/vmlinuzx/llmc-sub012/internal/extract"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

// Resolver maps referenced names onto entity IDs outside the current
// build batch. The store-backed resolver is the production one; tests
// use a map.
type Resolver interface {
	ResolveSymbol(ctx context.Context, name string) (string, bool)
	ResolveModule(ctx context.Context, dotted string) (string, bool)
}

// Result is one deterministic build: entities and relations sorted by
// ID, unresolved references counted but not stored.
type Result struct {
	Entities   []store.Entity
	Relations  []store.Relation
	Unresolved int
}

// Builder emits graph rows for extracted files.
type Builder struct {
	resolver Resolver
}

// NewBuilder wires a resolver for cross-file references. A nil
// resolver restricts resolution to the build batch itself.
func NewBuilder(resolver Resolver) *Builder {
	return &Builder{resolver: resolver}
}

// ModuleID is the entity ID for a file's module node.
func ModuleID(path string) string { return "mod:" + path }

// SymbolID is the entity ID for a symbol within a module.
func SymbolID(module, symbol string) string { return "sym:" + module + "." + symbol }

// Build emits entities and relations for a set of analyses. Symbols
// resolve first against the batch, then through the resolver. Same
// input always produces the same output ordering.
func (b *Builder) Build(ctx context.Context, analyses []*extract.FileAnalysis) Result {
	var res Result

	// Local tables: short symbol name -> entity ID, dotted module -> ID.
	symbols := make(map[string]string)
	modules := make(map[string]string)
	entitySet := make(map[string]store.Entity)

	for _, a := range analyses {
		modID := ModuleID(a.Path)
		modules[a.Module] = modID
		entitySet[modID] = store.Entity{
			ID:      modID,
			Kind:    "module",
			PathRef: a.Path,
			Metadata: map[string]string{
				"module":   a.Module,
				"language": a.Language,
			},
		}
		for _, sp := range a.Spans {
			if sp.SymbolName == "" || sp.ContentType != extract.ContentTypeCode {
				continue
			}
			switch sp.Kind {
			case extract.SpanKindFunction, extract.SpanKindClass, extract.SpanKindMethod:
			default:
				continue
			}
			id := SymbolID(a.Module, sp.SymbolName)
			entitySet[id] = store.Entity{
				ID:      id,
				Kind:    string(sp.Kind),
				PathRef: a.Path,
				Metadata: map[string]string{
					"symbol": sp.SymbolName,
					"module": a.Module,
				},
			}
			symbols[sp.SymbolName] = id
			// Methods also resolve by bare name: a call site rarely
			// spells Class.method.
			if dot := strings.LastIndexByte(sp.SymbolName, '.'); dot >= 0 {
				bare := sp.SymbolName[dot+1:]
				if _, taken := symbols[bare]; !taken {
					symbols[bare] = id
				}
			}
		}
	}

	relationSet := make(map[store.Relation]bool)
	addRelation := func(r store.Relation) {
		if r.SrcID == "" || r.DstID == "" || r.SrcID == r.DstID {
			return
		}
		relationSet[r] = true
	}

	for _, a := range analyses {
		modID := ModuleID(a.Path)
		res.Unresolved += a.Unresolved

		// defines: module -> each declared symbol.
		for _, sp := range a.Spans {
			id := SymbolID(a.Module, sp.SymbolName)
			if _, ok := entitySet[id]; ok && sp.SymbolName != "" {
				addRelation(store.Relation{SrcID: modID, EdgeType: "defines", DstID: id})
			}
		}

		for _, ref := range a.Refs {
			src := modID
			if ref.From != "" {
				if id, ok := symbols[ref.From]; ok {
					src = id
				} else {
					src = SymbolID(a.Module, ref.From)
					if _, ok := entitySet[src]; !ok {
						res.Unresolved++
						continue
					}
				}
			}

			var dst string
			var ok bool
			if ref.Kind == extract.RefImports {
				dst, ok = b.resolveModule(ctx, modules, ref.To)
			} else {
				dst, ok = b.resolveSymbol(ctx, symbols, a.Module, ref.To)
			}
			if !ok {
				res.Unresolved++
				continue
			}
			addRelation(store.Relation{SrcID: src, EdgeType: string(ref.Kind), DstID: dst})
		}
	}

	for _, e := range entitySet {
		res.Entities = append(res.Entities, e)
	}
	sort.Slice(res.Entities, func(i, j int) bool { return res.Entities[i].ID < res.Entities[j].ID })

	for r := range relationSet {
		res.Relations = append(res.Relations, r)
	}
	sort.Slice(res.Relations, func(i, j int) bool {
		a, b := res.Relations[i], res.Relations[j]
		if a.SrcID != b.SrcID {
			return a.SrcID < b.SrcID
		}
		if a.EdgeType != b.EdgeType {
			return a.EdgeType < b.EdgeType
		}
		return a.DstID < b.DstID
	})
	return res
}

func (b *Builder) resolveSymbol(ctx context.Context, local map[string]string, module, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if id, ok := local[name]; ok {
		return id, true
	}
	// Qualified names resolve by their last segment within the batch:
	// self.helper and pkg.helper both land on helper when unambiguous.
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		if id, ok := local[name[dot+1:]]; ok {
			return id, true
		}
	}
	if b.resolver != nil {
		return b.resolver.ResolveSymbol(ctx, name)
	}
	return "", false
}

func (b *Builder) resolveModule(ctx context.Context, local map[string]string, dotted string) (string, bool) {
	if dotted == "" {
		return "", false
	}
	if id, ok := local[dotted]; ok {
		return id, true
	}
	if b.resolver != nil {
		return b.resolver.ResolveModule(ctx, dotted)
	}
	return "", false
}
