// Package syncer keeps the index store consistent with the working
// tree: change detection against the persisted manifest (with a git
// marker as a hint), atomic per-file application, and orphan
// enrichment upkeep.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/extract"
	"github.com/vmlinuzx/llmc-sub012/internal/graph"
	"github.com/vmlinuzx/llmc-sub012/internal/scanner"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

// DefaultOrphanTTL is the retention window for orphaned enrichments.
const DefaultOrphanTTL = 7 * 24 * time.Hour

// Changes is one detection pass. Renamed maps old path to new path;
// renamed files appear in neither Added nor Deleted.
type Changes struct {
	Added    []string
	Modified []string
	Deleted  []string
	Renamed  map[string]string
}

// Empty reports a no-op detection.
func (c *Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0 && len(c.Renamed) == 0
}

// Report summarizes one sync cycle.
type Report struct {
	Changes       Changes
	SpansAdded    int
	SpansRemoved  int
	ParseWarnings []string
	Unresolved    int
	Orphans       []string
	OrphansReaped int
	Commit        string
	Duration      time.Duration
	NoChanges     bool
}

// Syncer drives detection and application for one repository.
type Syncer struct {
	root      string
	store     *store.Store
	scanner   *scanner.Scanner
	extractor extract.Extractor
	builder   *graph.Builder
	lexical   store.LexicalIndex
	orphanTTL time.Duration
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithOrphanTTL overrides the orphan retention window.
func WithOrphanTTL(ttl time.Duration) Option {
	return func(s *Syncer) {
		if ttl > 0 {
			s.orphanTTL = ttl
		}
	}
}

// WithLexicalIndex attaches a lexical backend that needs explicit
// feeding (bleve). The FTS5 backend needs none.
func WithLexicalIndex(idx store.LexicalIndex) Option {
	return func(s *Syncer) { s.lexical = idx }
}

// New builds a Syncer for the repo root.
func New(root string, st *store.Store, sc *scanner.Scanner, ex extract.Extractor, opts ...Option) *Syncer {
	s := &Syncer{
		root:      root,
		store:     st,
		scanner:   sc,
		extractor: ex,
		builder:   graph.NewBuilder(graph.NewStoreResolver(st)),
		orphanTTL: DefaultOrphanTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// fileHash fingerprints file content the same way spans are hashed.
func fileHash(content []byte) string {
	sum := blake2b.Sum256(content)
	return fmt.Sprintf("%x", sum[:16])
}

// DetectChanges compares the working tree against the stored manifest.
// mtime+size equality short-circuits hashing unless git flags the path.
func (s *Syncer) DetectChanges(ctx context.Context) (*Changes, map[string]store.ManifestEntry, error) {
	manifest, err := s.store.Manifest(ctx)
	if err != nil {
		return nil, nil, err
	}

	var gitHint map[string]bool
	if hasGit(s.root) {
		if status, serr := s.store.GetStatus(ctx); serr == nil {
			gitHint = gitChangedPaths(ctx, s.root, status.LastIndexedCommit)
		}
	}

	files, err := s.scanner.ScanAll(ctx, s.root, scanner.Options{})
	if err != nil {
		return nil, nil, err
	}

	changes := &Changes{Renamed: make(map[string]string)}
	next := make(map[string]store.ManifestEntry, len(files))
	seen := make(map[string]bool, len(files))
	addedHashes := make(map[string]string) // content hash -> new path

	for _, f := range files {
		seen[f.Path] = true
		prev, known := manifest[f.Path]

		if known && prev.MTime.Unix() == f.MTime && prev.Size == f.Size &&
			(gitHint == nil || !gitHint[f.Path]) {
			next[f.Path] = prev
			continue
		}

		content, rerr := os.ReadFile(f.AbsPath)
		if rerr != nil {
			slog.Warn("sync_read_failed", slog.String("path", f.Path), slog.String("error", rerr.Error()))
			if known {
				next[f.Path] = prev
			}
			continue
		}
		hash := fileHash(content)
		next[f.Path] = store.ManifestEntry{
			Path:        f.Path,
			MTime:       time.Unix(f.MTime, 0),
			Size:        f.Size,
			ContentHash: hash,
		}
		switch {
		case !known:
			changes.Added = append(changes.Added, f.Path)
			addedHashes[hash] = f.Path
		case prev.ContentHash != hash:
			changes.Modified = append(changes.Modified, f.Path)
		default:
			// Touched but identical content.
		}
	}

	for path, prev := range manifest {
		if seen[path] {
			continue
		}
		// Same content under a new path is a rename.
		if newPath, ok := addedHashes[prev.ContentHash]; ok {
			changes.Renamed[path] = newPath
			changes.Added = removeString(changes.Added, newPath)
			continue
		}
		changes.Deleted = append(changes.Deleted, path)
	}
	return changes, next, nil
}

// Sync runs one full cycle: detect, apply, reconcile orphans, update
// status. A cycle with no changes performs zero store writes.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	changes, next, err := s.DetectChanges(ctx)
	if err != nil {
		return nil, err
	}
	report.Changes = *changes

	if changes.Empty() {
		report.NoChanges = true
		report.Duration = time.Since(start)
		// Orphans are still reported (read-only); reaping waits for a
		// cycle that writes anyway, except when something is overdue.
		orphans, oerr := s.store.OrphanEnrichments(ctx)
		if oerr == nil {
			report.Orphans = orphans
		}
		return report, nil
	}

	// Renames first: the new path's spans land before the old path's
	// rows cascade, so shared hashes keep their derived data.
	for oldPath, newPath := range changes.Renamed {
		tracked, err := s.applyFile(ctx, newPath, report)
		if err != nil {
			return report, err
		}
		if !tracked {
			delete(next, newPath)
		}
		if err := s.store.DeleteFile(ctx, oldPath); err != nil {
			return report, err
		}
	}
	for _, path := range changes.Added {
		tracked, err := s.applyFile(ctx, path, report)
		if err != nil {
			return report, err
		}
		if !tracked {
			delete(next, path)
		}
	}
	for _, path := range changes.Modified {
		tracked, err := s.applyFile(ctx, path, report)
		if err != nil {
			return report, err
		}
		if !tracked {
			delete(next, path)
		}
	}
	for _, path := range changes.Deleted {
		spans, _ := s.store.SpansByPath(ctx, path)
		if err := s.store.DeleteFile(ctx, path); err != nil {
			return report, err
		}
		report.SpansRemoved += len(spans)
		s.dropFromLexical(ctx, spans)
	}

	entries := make([]store.ManifestEntry, 0, len(next))
	for _, e := range next {
		entries = append(entries, e)
	}
	if err := s.store.ReplaceManifest(ctx, entries); err != nil {
		return report, err
	}

	orphans, err := s.store.OrphanEnrichments(ctx)
	if err != nil {
		return report, err
	}
	report.Orphans = orphans
	if len(orphans) > 0 {
		reaped, rerr := s.store.ReapOrphans(ctx, s.orphanTTL)
		if rerr != nil {
			return report, rerr
		}
		report.OrphansReaped = reaped
	}

	commit := ""
	if hasGit(s.root) {
		commit = gitHead(ctx, s.root)
	}
	report.Commit = commit
	if err := s.store.SetStatus(ctx, store.IndexStatus{
		RepoPath:          s.root,
		State:             store.StateReady,
		LastIndexedAt:     time.Now(),
		LastIndexedCommit: commit,
		SchemaVersion:     store.CurrentSchemaVersion,
	}); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	slog.Info("sync_completed",
		slog.Int("added", len(changes.Added)),
		slog.Int("modified", len(changes.Modified)),
		slog.Int("deleted", len(changes.Deleted)),
		slog.Int("renamed", len(changes.Renamed)),
		slog.Int("spans_added", report.SpansAdded),
		slog.Int("spans_removed", report.SpansRemoved),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// applyFile extracts one file and applies spans and graph rows. The
// returned bool reports whether the manifest should keep the file: a
// failed file is left untracked so the next sync retries it.
func (s *Syncer) applyFile(ctx context.Context, path string, report *Report) (bool, error) {
	abs := filepath.Join(s.root, path)
	content, err := os.ReadFile(abs)
	if err != nil {
		slog.Warn("sync_read_failed", slog.String("path", path), slog.String("error", err.Error()))
		return false, nil
	}
	info, err := os.Stat(abs)
	if err != nil {
		return false, nil
	}

	analysis, err := s.extractor.Extract(ctx, path, content)
	if err != nil {
		// Parse failures degrade to a warning. The file must not land
		// in the manifest under its new content hash, or the next sync
		// would see it unchanged and never retry; spans from the last
		// good parse stay in place meanwhile.
		report.ParseWarnings = append(report.ParseWarnings, fmt.Sprintf("%s: %v", path, err))
		slog.Warn("sync_extract_failed", slog.String("path", path), slog.String("error", err.Error()))
		if llmcerr.IsKind(err, llmcerr.KindParseError) {
			return false, nil
		}
		// Oversized or binary input is deterministic: keep it tracked
		// so it is not re-read every cycle.
		if analysis == nil {
			return true, nil
		}
	}

	fileID, _, _, err := s.store.UpsertFile(ctx, store.File{
		Path:        path,
		ContentHash: fileHash(content),
		MTime:       info.ModTime(),
		Language:    analysis.Language,
		Size:        info.Size(),
	})
	if err != nil {
		return false, err
	}

	rows := make([]store.SpanRow, len(analysis.Spans))
	for i, sp := range analysis.Spans {
		rows[i] = store.SpanRow{
			Hash:        sp.Hash,
			FileID:      fileID,
			Kind:        sp.Kind,
			SymbolName:  sp.SymbolName,
			StartLine:   sp.StartLine,
			EndLine:     sp.EndLine,
			Content:     sp.Content,
			ContentType: sp.ContentType,
			Language:    sp.Language,
		}
	}

	oldSpans, err := s.store.SpansForFile(ctx, fileID)
	if err != nil {
		return false, err
	}

	diff, err := s.store.ReplaceSpansForFile(ctx, fileID, rows)
	if err != nil {
		return false, err
	}
	report.SpansAdded += diff.Added
	report.SpansRemoved += diff.Removed

	if s.lexical != nil {
		newSet := make(map[string]bool, len(rows))
		for _, r := range rows {
			newSet[r.Hash] = true
		}
		var gone []store.SpanRow
		for _, old := range oldSpans {
			if !newSet[old.Hash] {
				gone = append(gone, old)
			}
		}
		s.dropFromLexical(ctx, gone)
		if err := s.lexical.IndexSpans(ctx, rows); err != nil {
			slog.Warn("lexical_index_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	// Graph rows for the file are rebuilt; inbound edges into symbols
	// that survive the edit are preserved.
	built := s.builder.Build(ctx, []*extract.FileAnalysis{analysis})
	report.Unresolved += built.Unresolved
	if err := s.store.ReplaceGraphForPath(ctx, path, built.Entities, built.Relations); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Syncer) dropFromLexical(ctx context.Context, spans []store.SpanRow) {
	if s.lexical == nil || len(spans) == 0 {
		return
	}
	hashes := make([]string, len(spans))
	for i, sp := range spans {
		hashes[i] = sp.Hash
	}
	if err := s.lexical.DeleteSpans(ctx, hashes); err != nil {
		slog.Warn("lexical_delete_failed", slog.String("error", err.Error()))
	}
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
