package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmlinuzx/llmc-sub012/internal/extract"
	"github.com/vmlinuzx/llmc-sub012/internal/scanner"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

type harness struct {
	root   string
	store  *store.Store
	syncer *Syncer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sc, err := scanner.New()
	require.NoError(t, err)
	ex := extract.NewSpanExtractor()
	t.Cleanup(func() { ex.Close() })

	return &harness{
		root:   root,
		store:  st,
		syncer: New(root, st, sc, ex),
	}
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(h.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const loginSrc = `def check_password(user, password):
    return user.hash == password


def login(user, password):
    if check_password(user, password):
        return "ok"
    return "denied"
`

func TestSyncIndexesNewRepo(t *testing.T) {
	h := newHarness(t)
	h.write(t, "auth/login.py", loginSrc)
	ctx := context.Background()

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, report.NoChanges)
	assert.Len(t, report.Changes.Added, 1)
	assert.Equal(t, 2, report.SpansAdded)

	status, err := h.store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateReady, status.State)
	assert.Equal(t, h.root, status.RepoPath)

	ent, err := h.store.GetEntity(ctx, "sym:auth.login.login")
	require.NoError(t, err)
	require.NotNil(t, ent)
}

func TestSyncIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.write(t, "auth/login.py", loginSrc)
	ctx := context.Background()

	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	writes := h.store.WriteCount()
	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, report.NoChanges)
	assert.Equal(t, writes, h.store.WriteCount(), "no-op sync performs zero writes")
}

func TestSyncDetectsModification(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.py", "def alpha():\n    return 1\n")
	ctx := context.Background()
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	// mtime granularity can hide a same-second rewrite; force it apart.
	path := filepath.Join(h.root, "a.py")
	past := time.Now().Add(-2 * time.Second)
	require.NoError(t, os.Chtimes(path, past, past))
	_, err = h.syncer.Sync(ctx)
	require.NoError(t, err)

	h.write(t, "a.py", "def alpha():\n    return 2\n")
	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Changes.Modified, 1)
	assert.Equal(t, 1, report.SpansAdded)
	assert.Equal(t, 1, report.SpansRemoved)
}

func TestSyncRenamePreservesEnrichment(t *testing.T) {
	h := newHarness(t)
	h.write(t, "old.py", loginSrc)
	ctx := context.Background()
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	spans, err := h.store.SpansByPath(ctx, "old.py")
	require.NoError(t, err)
	require.NotEmpty(t, spans)
	hash := spans[0].Hash
	require.NoError(t, h.store.PutEnrichment(ctx, store.Enrichment{
		SpanHash: hash, Summary: "checks a password", ModelID: "m",
	}))

	require.NoError(t, os.Rename(filepath.Join(h.root, "old.py"), filepath.Join(h.root, "new.py")))

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"old.py": "new.py"}, report.Changes.Renamed)
	assert.Empty(t, report.Changes.Added)
	assert.Empty(t, report.Changes.Deleted)

	// The enrichment reconnects through the span hash.
	e, err := h.store.GetEnrichment(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, e)
	orphans, err := h.store.OrphanEnrichments(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestSyncDeleteReportsOrphans(t *testing.T) {
	h := newHarness(t)
	h.write(t, "gone.py", "def solo():\n    return 42\n")
	ctx := context.Background()
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	spans, err := h.store.SpansByPath(ctx, "gone.py")
	require.NoError(t, err)
	require.NotEmpty(t, spans)
	require.NoError(t, h.store.PutEnrichment(ctx, store.Enrichment{
		SpanHash: spans[0].Hash, Summary: "returns the answer", ModelID: "m",
	}))

	require.NoError(t, os.Remove(filepath.Join(h.root, "gone.py")))
	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Changes.Deleted, 1)
	// DeleteFile cascades rows for hashes that exist nowhere else, so
	// nothing orphaned remains afterwards.
	assert.Empty(t, report.Orphans)

	sp, _, err := h.store.SpanByHash(ctx, spans[0].Hash)
	require.NoError(t, err)
	assert.Nil(t, sp)
}

func TestSyncStructuralShiftKeepsHashes(t *testing.T) {
	h := newHarness(t)
	h.write(t, "s.py", "def stable():\n    return 7\n")
	ctx := context.Background()
	_, err := h.syncer.Sync(ctx)
	require.NoError(t, err)

	spans, err := h.store.SpansByPath(ctx, "s.py")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	original := spans[0].Hash

	// Blank lines above shift line numbers but not span content.
	path := filepath.Join(h.root, "s.py")
	past := time.Now().Add(-2 * time.Second)
	require.NoError(t, os.Chtimes(path, past, past))
	h.write(t, "s.py", "\n\n\ndef stable():\n    return 7\n")

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.SpansAdded)
	assert.Zero(t, report.SpansRemoved)

	spans, err = h.store.SpansByPath(ctx, "s.py")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, original, spans[0].Hash)
	assert.Equal(t, 4, spans[0].StartLine, "line metadata tracks the shift")
}

func TestSyncParseErrorIsWarningNotFailure(t *testing.T) {
	h := newHarness(t)
	h.write(t, "bad.py", "def broken(:\n")
	h.write(t, "good.py", "def fine():\n    pass\n")
	ctx := context.Background()

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.ParseWarnings)

	spans, err := h.store.SpansByPath(ctx, "good.py")
	require.NoError(t, err)
	assert.NotEmpty(t, spans, "other files index despite a parse failure")
}

func TestSyncRetriesParseFailuresNextCycle(t *testing.T) {
	h := newHarness(t)
	h.write(t, "bad.py", "def broken(:\n")
	ctx := context.Background()

	report, err := h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.ParseWarnings)

	// The unchanged file is picked up again: its content hash must not
	// land in the manifest while extraction keeps failing.
	report, err = h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, report.NoChanges)
	assert.Contains(t, report.Changes.Added, "bad.py")
	assert.NotEmpty(t, report.ParseWarnings)

	// Once the syntax error is fixed the file indexes normally.
	h.write(t, "bad.py", "def fixed():\n    pass\n")
	report, err = h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.ParseWarnings)

	spans, err := h.store.SpansByPath(ctx, "bad.py")
	require.NoError(t, err)
	assert.NotEmpty(t, spans)

	report, err = h.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, report.NoChanges, "a parsed file settles into the manifest")
}
