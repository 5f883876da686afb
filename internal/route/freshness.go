package route

import (
	"context"
	"os"
	"path/filepath"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
	"github.com/vmlinuzx/llmc-sub012/internal/syncer"
)

// Freshness states the index's relation to the working tree.
type Freshness string

const (
	FreshnessReady   Freshness = "ready"
	FreshnessStale   Freshness = "stale"
	FreshnessUnknown Freshness = "unknown"
)

// FreshnessGate compares the indexed commit against the working tree
// before answers go out. Stale answers are labeled, or refused when
// configured to.
type FreshnessGate struct {
	store  *store.Store
	root   string
	refuse bool
}

// NewFreshnessGate builds the gate. refuse makes stale indexes an
// error instead of a label.
func NewFreshnessGate(s *store.Store, repoRoot string, refuse bool) *FreshnessGate {
	return &FreshnessGate{store: s, root: repoRoot, refuse: refuse}
}

// Check reports the index's freshness. An empty index answers with
// freshness unknown so callers return empty results instead of an
// error; only an errored index refuses, its contents cannot be
// trusted.
func (g *FreshnessGate) Check(ctx context.Context) (Freshness, error) {
	status, err := g.store.GetStatus(ctx)
	if err != nil {
		return FreshnessUnknown, err
	}
	if status == nil || status.State == store.StateEmpty {
		return FreshnessUnknown, nil
	}
	if status.State == store.StateError {
		return FreshnessUnknown, llmcerr.Newf(llmcerr.KindStaleIndex,
			"index is in error state: %s", status.LastError).
			WithRemediation("run llmc index after fixing the reported problem")
	}

	fresh := g.freshness(ctx, status)
	if fresh == FreshnessStale && g.refuse {
		return fresh, llmcerr.New(llmcerr.KindStaleIndex, "index lags the working tree").
			WithRemediation("run llmc index, or unset search.stale_refuse to get labeled stale answers")
	}
	return fresh, nil
}

func (g *FreshnessGate) freshness(ctx context.Context, status *store.IndexStatus) Freshness {
	head := syncer.Head(ctx, g.root)
	if head != "" && status.LastIndexedCommit != "" {
		if head != status.LastIndexedCommit {
			return FreshnessStale
		}
		if syncer.DirtyWorkTree(ctx, g.root) {
			return FreshnessStale
		}
		return FreshnessReady
	}
	// No VCS marker on either side: fall back to the manifest.
	if g.manifestDirty(ctx) {
		return FreshnessStale
	}
	return FreshnessReady
}

// manifestDirty stats every tracked file against the stored manifest.
// A changed mtime or size, or a missing file, marks the index stale.
// Files added since the last sync are the sync engine's to notice; a
// full walk per query would cost more than the label is worth.
func (g *FreshnessGate) manifestDirty(ctx context.Context) bool {
	manifest, err := g.store.Manifest(ctx)
	if err != nil || len(manifest) == 0 {
		return false
	}
	for _, e := range manifest {
		if ctx.Err() != nil {
			return false
		}
		info, err := os.Stat(filepath.Join(g.root, e.Path))
		if err != nil {
			return true
		}
		if info.ModTime().Unix() != e.MTime.Unix() || info.Size() != e.Size {
			return true
		}
	}
	return false
}
