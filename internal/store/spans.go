package store

import (
	"context"
	"database/sql"
	"time"
)

// SpanDiff summarizes a ReplaceSpansForFile application.
type SpanDiff struct {
	Added   int
	Removed int
	Kept    int
}

// ReplaceSpansForFile applies the extractor's output for one file in a
// single transaction: new hashes are inserted, missing hashes deleted,
// unchanged spans only have their line metadata refreshed. Readers
// never observe a partial file.
func (s *Store) ReplaceSpansForFile(ctx context.Context, fileID int64, spans []SpanRow) (SpanDiff, error) {
	var diff SpanDiff
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing := make(map[string]bool)
		rows, err := tx.QueryContext(ctx, `SELECT span_hash FROM spans WHERE file_id = ?`, fileID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return err
			}
			existing[h] = false // false = not seen in new set yet
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		insert, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO spans
			(span_hash, file_id, kind, symbol_name, start_line, end_line, content, content_type, content_language, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer insert.Close()

		for i, sp := range spans {
			_, seen := existing[sp.Hash]
			if _, err := insert.ExecContext(ctx, sp.Hash, fileID, string(sp.Kind), sp.SymbolName,
				sp.StartLine, sp.EndLine, sp.Content, string(sp.ContentType), sp.Language, i); err != nil {
				return err
			}
			if seen {
				existing[sp.Hash] = true
				diff.Kept++
			} else {
				diff.Added++
				// One lexical row per hash, shared across files.
				var n int
				if err := tx.QueryRowContext(ctx,
					`SELECT COUNT(*) FROM span_fts WHERE span_hash = ?`, sp.Hash).Scan(&n); err != nil {
					return err
				}
				if n == 0 {
					if _, err := tx.ExecContext(ctx,
						`INSERT INTO span_fts (span_hash, content) VALUES (?, ?)`,
						sp.Hash, sp.SymbolName+"\n"+sp.Content); err != nil {
						return err
					}
				}
			}
		}

		for hash, kept := range existing {
			if kept {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM spans WHERE file_id = ? AND span_hash = ?`, fileID, hash); err != nil {
				return err
			}
			diff.Removed++
			// Drop derived rows only when the hash is gone everywhere.
			// Enrichments stay behind as reconnectable orphans.
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM spans WHERE span_hash = ?`, hash).Scan(&n); err != nil {
				return err
			}
			if n == 0 {
				if _, err := tx.ExecContext(ctx, `DELETE FROM span_fts WHERE span_hash = ?`, hash); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE span_hash = ?`, hash); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return diff, err
}

// SpanByHash returns one stored span for a hash (any file).
func (s *Store) SpanByHash(ctx context.Context, hash string) (*SpanRow, string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.span_hash, s.file_id, s.kind, s.symbol_name, s.start_line, s.end_line,
		       s.content, s.content_type, s.content_language, s.position, f.path
		FROM spans s JOIN files f ON f.id = s.file_id
		WHERE s.span_hash = ? LIMIT 1`, hash)
	var sp SpanRow
	var path string
	err := row.Scan(&sp.Hash, &sp.FileID, &sp.Kind, &sp.SymbolName, &sp.StartLine, &sp.EndLine,
		&sp.Content, &sp.ContentType, &sp.Language, &sp.Position, &path)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", classifyStoreErr("span by hash", err)
	}
	return &sp, path, nil
}

// SpansForFile returns a file's spans in position order.
func (s *Store) SpansForFile(ctx context.Context, fileID int64) ([]SpanRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_hash, file_id, kind, symbol_name, start_line, end_line,
		       content, content_type, content_language, position
		FROM spans WHERE file_id = ? ORDER BY position`, fileID)
	if err != nil {
		return nil, classifyStoreErr("spans for file", err)
	}
	defer rows.Close()

	var out []SpanRow
	for rows.Next() {
		var sp SpanRow
		if err := rows.Scan(&sp.Hash, &sp.FileID, &sp.Kind, &sp.SymbolName, &sp.StartLine,
			&sp.EndLine, &sp.Content, &sp.ContentType, &sp.Language, &sp.Position); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// SpansByPath returns spans whose file path matches, ordered by
// position. Used to materialize graph hits into spans.
func (s *Store) SpansByPath(ctx context.Context, path string) ([]SpanRow, error) {
	f, err := s.GetFileByPath(ctx, path)
	if err != nil || f == nil {
		return nil, err
	}
	return s.SpansForFile(ctx, f.ID)
}

// SpanForSymbol returns the span covering a symbol in a file, if any.
func (s *Store) SpanForSymbol(ctx context.Context, path, symbol string) (*SpanRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.span_hash, s.file_id, s.kind, s.symbol_name, s.start_line, s.end_line,
		       s.content, s.content_type, s.content_language, s.position
		FROM spans s JOIN files f ON f.id = s.file_id
		WHERE f.path = ? AND s.symbol_name = ? LIMIT 1`, path, symbol)
	var sp SpanRow
	err := row.Scan(&sp.Hash, &sp.FileID, &sp.Kind, &sp.SymbolName, &sp.StartLine, &sp.EndLine,
		&sp.Content, &sp.ContentType, &sp.Language, &sp.Position)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classifyStoreErr("span for symbol", err)
	}
	return &sp, nil
}

// PendingEnrichments returns spans lacking an enrichment, newest file
// first then span position, excluding spans under cooldown.
func (s *Store) PendingEnrichments(ctx context.Context, limit int, cooldown time.Duration) ([]PendingSpan, error) {
	now := time.Now()
	editCutoff := now.Add(-cooldown).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.span_hash, s.file_id, s.kind, s.symbol_name, s.start_line, s.end_line,
		       s.content, s.content_type, s.content_language, s.position, f.path, f.mtime
		FROM spans s
		JOIN files f ON f.id = s.file_id
		WHERE s.span_hash NOT IN (SELECT span_hash FROM enrichments)
		  AND (? = 0 OR f.mtime <= ?)
		  AND s.span_hash NOT IN (
			SELECT span_hash FROM failures WHERE cooldown_until > ?
		  )
		ORDER BY f.mtime DESC, f.path, s.position
		LIMIT ?`,
		int64(cooldown.Seconds()), editCutoff, now.Unix(), limit)
	if err != nil {
		return nil, classifyStoreErr("pending enrichments", err)
	}
	defer rows.Close()

	var out []PendingSpan
	for rows.Next() {
		var p PendingSpan
		var mtime int64
		if err := rows.Scan(&p.Span.Hash, &p.Span.FileID, &p.Span.Kind, &p.Span.SymbolName,
			&p.Span.StartLine, &p.Span.EndLine, &p.Span.Content, &p.Span.ContentType,
			&p.Span.Language, &p.Span.Position, &p.FilePath, &mtime); err != nil {
			return nil, err
		}
		p.FileMTime = time.Unix(mtime, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}
