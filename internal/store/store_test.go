package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/extract"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSpan(hash, symbol string, start, end int) SpanRow {
	return SpanRow{
		Hash:        hash,
		Kind:        extract.SpanKindFunction,
		SymbolName:  symbol,
		StartLine:   start,
		EndLine:     end,
		Content:     "def " + symbol + "():\n    pass",
		ContentType: extract.ContentTypeCode,
		Language:    "python",
	}
}

func addFileWithSpans(t *testing.T, s *Store, path string, spans ...SpanRow) int64 {
	t.Helper()
	ctx := context.Background()
	id, _, _, err := s.UpsertFile(ctx, File{
		Path:        path,
		ContentHash: "hash-of-" + path,
		MTime:       time.Now(),
		Language:    "python",
		Size:        100,
	})
	require.NoError(t, err)
	_, err = s.ReplaceSpansForFile(ctx, id, spans)
	require.NoError(t, err)
	return id
}

func TestOpenMigratesToCurrentVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	err = s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	// Reopen is a no-op migration.
	require.NoError(t, s.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion+10)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindMigrationFailed))
}

func TestUpsertFileUnchangedPerformsZeroWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := File{Path: "a.py", ContentHash: "h1", MTime: time.Now(), Language: "python"}
	id1, created, changed, err := s.UpsertFile(ctx, f)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, changed)

	before := s.WriteCount()
	id2, created, changed, err := s.UpsertFile(ctx, f)
	require.NoError(t, err)
	assert.False(t, created)
	assert.False(t, changed)
	assert.Equal(t, id1, id2)
	assert.Equal(t, before, s.WriteCount(), "unchanged upsert must not write")

	f.ContentHash = "h2"
	_, created, changed, err = s.UpsertFile(ctx, f)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, changed)
	assert.Greater(t, s.WriteCount(), before)
}

func TestReplaceSpansForFileDiff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := addFileWithSpans(t, s, "a.py",
		testSpan("aaaa", "alpha", 1, 3),
		testSpan("bbbb", "beta", 5, 7),
	)

	diff, err := s.ReplaceSpansForFile(ctx, id, []SpanRow{
		testSpan("aaaa", "alpha", 2, 4), // same content, shifted lines
		testSpan("cccc", "gamma", 6, 9), // new
	})
	require.NoError(t, err)
	assert.Equal(t, 1, diff.Added)
	assert.Equal(t, 1, diff.Removed)
	assert.Equal(t, 1, diff.Kept)

	spans, err := s.SpansForFile(ctx, id)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "aaaa", spans[0].Hash)
	assert.Equal(t, 2, spans[0].StartLine, "line metadata refreshes on kept spans")
	assert.Equal(t, "cccc", spans[1].Hash)
}

func TestReplaceSpansKeepsEnrichmentAsOrphan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := addFileWithSpans(t, s, "a.py", testSpan("aaaa", "alpha", 1, 3))
	require.NoError(t, s.PutEnrichment(ctx, Enrichment{
		SpanHash: "aaaa", Summary: "does alpha things", ModelID: "m",
	}))

	// Span goes away; enrichment must survive as an orphan.
	_, err := s.ReplaceSpansForFile(ctx, id, nil)
	require.NoError(t, err)

	e, err := s.GetEnrichment(ctx, "aaaa")
	require.NoError(t, err)
	require.NotNil(t, e)

	orphans, err := s.OrphanEnrichments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa"}, orphans)

	// Same content comes back in another file: reconnects by hash.
	addFileWithSpans(t, s, "b.py", testSpan("aaaa", "alpha", 10, 12))
	orphans, err = s.OrphanEnrichments(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestReapOrphansHonorsTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutEnrichment(ctx, Enrichment{
		SpanHash: "old1", Summary: "x", ModelID: "m",
		CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
	}))
	require.NoError(t, s.PutEnrichment(ctx, Enrichment{
		SpanHash: "new1", Summary: "y", ModelID: "m",
	}))

	reaped, err := s.ReapOrphans(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	e, err := s.GetEnrichment(ctx, "new1")
	require.NoError(t, err)
	assert.NotNil(t, e, "young orphan survives the reap")
}

func TestDeleteFileCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addFileWithSpans(t, s, "a.py", testSpan("aaaa", "alpha", 1, 3))
	// Same hash also lives in b.py.
	addFileWithSpans(t, s, "b.py", testSpan("aaaa", "alpha", 1, 3), testSpan("bbbb", "beta", 5, 7))

	require.NoError(t, s.PutEmbedding(ctx, Embedding{
		SpanHash: "bbbb", Profile: "p", Vector: []float32{1, 0},
	}))
	require.NoError(t, s.UpsertEntities(ctx, []Entity{
		{ID: "mod:b", Kind: "module", PathRef: "b.py"},
	}))

	require.NoError(t, s.DeleteFile(ctx, "b.py"))

	// bbbb existed only in b.py: everything derived is gone.
	sp, _, err := s.SpanByHash(ctx, "bbbb")
	require.NoError(t, err)
	assert.Nil(t, sp)
	emb, err := s.GetEmbedding(ctx, "bbbb", "p")
	require.NoError(t, err)
	assert.Nil(t, emb)

	// aaaa survives via a.py.
	sp, path, err := s.SpanByHash(ctx, "aaaa")
	require.NoError(t, err)
	require.NotNil(t, sp)
	assert.Equal(t, "a.py", path)

	ent, err := s.GetEntity(ctx, "mod:b")
	require.NoError(t, err)
	assert.Nil(t, ent)
}

func TestPendingEnrichmentsOrderingAndCooldown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()

	idOld, _, _, err := s.UpsertFile(ctx, File{Path: "old.py", ContentHash: "h1", MTime: old})
	require.NoError(t, err)
	_, err = s.ReplaceSpansForFile(ctx, idOld, []SpanRow{testSpan("o1", "older", 1, 2)})
	require.NoError(t, err)

	idNew, _, _, err := s.UpsertFile(ctx, File{Path: "new.py", ContentHash: "h2", MTime: fresh})
	require.NoError(t, err)
	_, err = s.ReplaceSpansForFile(ctx, idNew, []SpanRow{testSpan("n1", "newer", 1, 2)})
	require.NoError(t, err)

	// No edit cooldown: newest file first.
	pending, err := s.PendingEnrichments(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "new.py", pending[0].FilePath)

	// With a cooldown the freshly edited file is excluded.
	pending, err = s.PendingEnrichments(ctx, 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "old.py", pending[0].FilePath)

	// A failure cooldown hides the span until it expires.
	require.NoError(t, s.RecordFailure(ctx, FailureRecord{
		SpanHash: "o1", Tier: "local_small", Reason: "timeout",
		CooldownUntil: time.Now().Add(time.Hour),
	}))
	pending, err = s.PendingEnrichments(ctx, 10, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRecordFailureBumpsAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := FailureRecord{SpanHash: "x", Tier: "local_small", Reason: "timeout",
		CooldownUntil: time.Now().Add(time.Minute)}
	require.NoError(t, s.RecordFailure(ctx, f))
	f.Reason = "parse"
	require.NoError(t, s.RecordFailure(ctx, f))

	recs, err := s.FailuresForSpan(ctx, "x")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Attempts)
	assert.Equal(t, "parse", recs[0].Reason)

	require.NoError(t, s.ClearFailures(ctx, "x"))
	recs, err = s.FailuresForSpan(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEmbeddingRoundTripAndDimGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vec := []float32{0.1, -0.5, 3.25}
	require.NoError(t, s.PutEmbedding(ctx, Embedding{
		SpanHash: "aaaa", Profile: "code", Vector: vec, ProviderID: "ollama/nomic",
	}))

	got, err := s.GetEmbedding(ctx, "aaaa", "code")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, vec, got.Vector)
	assert.Equal(t, 3, got.Dim)

	err = s.PutEmbedding(ctx, Embedding{
		SpanHash: "bbbb", Profile: "code", Vector: []float32{1, 2},
	})
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindConfigInvalid))
}

func TestInvalidateProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, h := range []string{"a", "b", "c"} {
		require.NoError(t, s.PutEmbedding(ctx, Embedding{
			SpanHash: h, Profile: "code", Vector: []float32{1, 0},
		}))
	}
	dropped, err := s.InvalidateProfile(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)

	n, err := s.EmbeddingCount(ctx, "code")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSearchVectorRanksByCosine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vectors := map[string][]float32{
		"exact":      {1, 0, 0},
		"close":      {0.9, 0.1, 0},
		"orthogonal": {0, 1, 0},
	}
	for h, v := range vectors {
		require.NoError(t, s.PutEmbedding(ctx, Embedding{SpanHash: h, Profile: "p", Vector: v}))
	}

	results, err := s.SearchVector(ctx, "p", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact", results[0].SpanHash)
	assert.Equal(t, "close", results[1].SpanHash)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	// Candidate prefilter restricts the scan.
	results, err = s.SearchVector(ctx, "p", []float32{1, 0, 0}, 5, []string{"orthogonal"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "orthogonal", results[0].SpanHash)
}

func TestFTSSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp1 := testSpan("h1", "parse_config", 1, 5)
	sp1.Content = "def parse_config(path):\n    return yaml.load(path)"
	sp2 := testSpan("h2", "send_email", 7, 12)
	sp2.Content = "def send_email(to, body):\n    smtp.send(to, body)"
	addFileWithSpans(t, s, "a.py", sp1, sp2)

	idx, err := NewLexicalIndex("fts5", s)
	require.NoError(t, err)
	defer idx.Close()

	results, err := idx.Search(ctx, "parse config yaml", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "h1", results[0].SpanHash)

	// Punctuation-heavy queries must not break MATCH syntax.
	_, err = idx.Search(ctx, `parse_config("x") OR NEAR -bad`, 10)
	require.NoError(t, err)

	results, err = idx.Search(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexicalIndexFactory(t *testing.T) {
	s := newTestStore(t)

	_, err := NewLexicalIndex("nope", s)
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindConfigInvalid))

	idx, err := NewLexicalIndex("bleve", s)
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	sp := testSpan("h1", "rotate_logs", 1, 4)
	sp.Content = "func rotateLogs() { shiftFiles() }"
	require.NoError(t, idx.IndexSpans(ctx, []SpanRow{sp}))

	results, err := idx.Search(ctx, "rotate logs", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "h1", results[0].SpanHash)

	require.NoError(t, idx.DeleteSpans(ctx, []string{"h1"}))
	results, err = idx.Search(ctx, "rotate logs", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBatchWriterFlushesOnSizeAndClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bw := NewBatchWriter(s, WithBatchSize(2), WithFlushInterval(time.Hour))
	bw.AddEnrichment(Enrichment{SpanHash: "e1", Summary: "one", ModelID: "m"})
	bw.AddEnrichment(Enrichment{SpanHash: "e2", Summary: "two", ModelID: "m"})

	require.Eventually(t, func() bool {
		e, err := s.GetEnrichment(ctx, "e2")
		return err == nil && e != nil
	}, 2*time.Second, 10*time.Millisecond, "size threshold triggers a flush")

	bw.AddEmbedding(Embedding{SpanHash: "e3", Profile: "p", Vector: []float32{1}})
	require.NoError(t, bw.Close())

	emb, err := s.GetEmbedding(ctx, "e3", "p")
	require.NoError(t, err)
	assert.NotNil(t, emb, "close flushes the remainder")
}

func TestBatchWriterRetainsBatchOnFailedFlush(t *testing.T) {
	s := newTestStore(t)
	bw := NewBatchWriter(s, WithFlushInterval(time.Hour))
	t.Cleanup(func() { _ = bw.Close() })

	// A dead store fails the commit; the batch must stay queued
	// instead of being dropped, it cost real model calls to produce.
	require.NoError(t, s.Close())
	bw.AddEnrichment(Enrichment{SpanHash: "e1", Summary: "one", ModelID: "m"})

	require.Error(t, bw.Flush())
	assert.Equal(t, 1, bw.Buffered())
}

func TestGraphRelationsValidateEndpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntities(ctx, []Entity{
		{ID: "sym:a.f", Kind: "function", PathRef: "a.py"},
		{ID: "sym:a.g", Kind: "function", PathRef: "a.py"},
	}))
	require.NoError(t, s.PutRelations(ctx, []Relation{
		{SrcID: "sym:a.f", EdgeType: "calls", DstID: "sym:a.g"},
	}))

	err := s.PutRelations(ctx, []Relation{
		{SrcID: "sym:a.f", EdgeType: "calls", DstID: "sym:missing"},
	})
	require.Error(t, err)

	// Duplicate edges collapse.
	require.NoError(t, s.PutRelations(ctx, []Relation{
		{SrcID: "sym:a.f", EdgeType: "calls", DstID: "sym:a.g"},
	}))
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM relations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNeighborsBoundedByHops(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// a -> b -> c, d -> a
	require.NoError(t, s.UpsertEntities(ctx, []Entity{
		{ID: "a", Kind: "function"}, {ID: "b", Kind: "function"},
		{ID: "c", Kind: "function"}, {ID: "d", Kind: "function"},
	}))
	require.NoError(t, s.PutRelations(ctx, []Relation{
		{SrcID: "a", EdgeType: "calls", DstID: "b"},
		{SrcID: "b", EdgeType: "calls", DstID: "c"},
		{SrcID: "d", EdgeType: "calls", DstID: "a"},
	}))

	one, err := s.Neighbors(ctx, "a", 1, nil)
	require.NoError(t, err)
	ids := make(map[string]int)
	for _, n := range one {
		ids[n.Entity.ID] = n.Distance
	}
	assert.Equal(t, map[string]int{"b": 1, "d": 1}, ids)

	two, err := s.Neighbors(ctx, "a", 2, nil)
	require.NoError(t, err)
	ids = make(map[string]int)
	for _, n := range two {
		ids[n.Entity.ID] = n.Distance
	}
	assert.Equal(t, map[string]int{"b": 1, "d": 1, "c": 2}, ids)

	callers, err := s.Callers(ctx, "a")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "d", callers[0].ID)
}

func TestReplaceGraphForPathKeepsInboundEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntities(ctx, []Entity{
		{ID: "sym:a.f", Kind: "function", PathRef: "a.py"},
		{ID: "sym:a.old", Kind: "function", PathRef: "a.py"},
		{ID: "sym:b.caller", Kind: "function", PathRef: "b.py"},
	}))
	require.NoError(t, s.PutRelations(ctx, []Relation{
		{SrcID: "sym:b.caller", EdgeType: "calls", DstID: "sym:a.f"},
		{SrcID: "sym:b.caller", EdgeType: "calls", DstID: "sym:a.old"},
		{SrcID: "sym:a.f", EdgeType: "calls", DstID: "sym:a.old"},
	}))

	// a.py re-syncs: f survives, old is gone, g is new.
	require.NoError(t, s.ReplaceGraphForPath(ctx, "a.py",
		[]Entity{
			{ID: "sym:a.f", Kind: "function", PathRef: "a.py"},
			{ID: "sym:a.g", Kind: "function", PathRef: "a.py"},
		},
		[]Relation{{SrcID: "sym:a.f", EdgeType: "calls", DstID: "sym:a.g"}},
	))

	callers, err := s.Callers(ctx, "sym:a.f")
	require.NoError(t, err)
	require.Len(t, callers, 1, "inbound edge into a surviving entity stays")
	assert.Equal(t, "sym:b.caller", callers[0].ID)

	gone, err := s.GetEntity(ctx, "sym:a.old")
	require.NoError(t, err)
	assert.Nil(t, gone)
	callers, err = s.Callers(ctx, "sym:a.old")
	require.NoError(t, err)
	assert.Empty(t, callers, "inbound edges into removed entities go with them")
}

func TestStatsAndHealth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addFileWithSpans(t, s, "a.py", testSpan("s1", "one", 1, 2), testSpan("s2", "two", 4, 6))
	require.NoError(t, s.PutEnrichment(ctx, Enrichment{SpanHash: "s1", Summary: "x", ModelID: "m"}))
	require.NoError(t, s.PutEnrichment(ctx, Enrichment{SpanHash: "gone", Summary: "y", ModelID: "m"}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 2, stats.Spans)
	assert.Equal(t, 2, stats.Enrichments)
	assert.Equal(t, 1, stats.PendingEnrichments)
	assert.Equal(t, 1, stats.OrphanEnrichments)

	require.NoError(t, s.SetState(ctx, StateReady, ""))
	h, err := s.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateReady, h.Status)
	require.NotEmpty(t, h.TopPendingFiles)
	assert.Contains(t, h.TopPendingFiles[0], "a.py")
	assert.Equal(t, []string{"gone"}, h.Orphans)
}

func TestStatusRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, st.State)

	want := IndexStatus{
		RepoPath:          "/repo",
		State:             StateReady,
		LastIndexedAt:     time.Now().Truncate(time.Second),
		LastIndexedCommit: "abc123",
		SchemaVersion:     CurrentSchemaVersion,
	}
	require.NoError(t, s.SetStatus(ctx, want))

	got, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.LastIndexedCommit, got.LastIndexedCommit)
	assert.Equal(t, want.LastIndexedAt.Unix(), got.LastIndexedAt.Unix())
}

func TestManifestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []ManifestEntry{
		{Path: "a.py", MTime: time.Now().Truncate(time.Second), Size: 10, ContentHash: "h1"},
		{Path: "b.py", MTime: time.Now().Truncate(time.Second), Size: 20, ContentHash: "h2"},
	}
	require.NoError(t, s.ReplaceManifest(ctx, entries))

	got, err := s.Manifest(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "h1", got["a.py"].ContentHash)
	assert.Equal(t, int64(20), got["b.py"].Size)
}

func TestANNIndexSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for h, v := range map[string][]float32{
		"exact":      {1, 0, 0},
		"close":      {0.95, 0.05, 0},
		"orthogonal": {0, 1, 0},
	} {
		require.NoError(t, s.PutEmbedding(ctx, Embedding{SpanHash: h, Profile: "p", Vector: v}))
	}

	idx, err := s.NewANNIndex(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	results, err := idx.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact", results[0].SpanHash)

	// Lazy removal hides the hash from results.
	idx.Remove("exact")
	results, err = idx.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "exact", r.SpanHash)
	}
	assert.Equal(t, 1, idx.Orphans())
}
