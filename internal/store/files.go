package store

import (
	"context"
	"database/sql"
	"time"
)

// UpsertFile records a file observation. Returns the file ID and
// whether the row was created or its content changed. Unchanged files
// perform zero writes.
func (s *Store) UpsertFile(ctx context.Context, f File) (id int64, created, changed bool, err error) {
	var existingID int64
	var existingHash string
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content_hash FROM files WHERE path = ?`, f.Path)
	switch scanErr := row.Scan(&existingID, &existingHash); scanErr {
	case nil:
		if existingHash == f.ContentHash {
			return existingID, false, false, nil
		}
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			_, uerr := tx.ExecContext(ctx,
				`UPDATE files SET content_hash = ?, mtime = ?, language = ?, size = ? WHERE id = ?`,
				f.ContentHash, f.MTime.Unix(), f.Language, f.Size, existingID)
			return uerr
		})
		return existingID, false, true, err
	case sql.ErrNoRows:
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			res, ierr := tx.ExecContext(ctx,
				`INSERT INTO files (path, content_hash, mtime, language, size) VALUES (?, ?, ?, ?, ?)`,
				f.Path, f.ContentHash, f.MTime.Unix(), f.Language, f.Size)
			if ierr != nil {
				return ierr
			}
			id, ierr = res.LastInsertId()
			return ierr
		})
		return id, true, true, err
	default:
		return 0, false, false, classifyStoreErr("lookup file", scanErr)
	}
}

// GetFileByPath returns the tracked file for a repo-relative path.
func (s *Store) GetFileByPath(ctx context.Context, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, content_hash, mtime, language, size FROM files WHERE path = ?`, path)
	return scanFile(row)
}

// ListFiles returns all tracked files ordered by path.
func (s *Store) ListFiles(ctx context.Context) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, content_hash, mtime, language, size FROM files ORDER BY path`)
	if err != nil {
		return nil, classifyStoreErr("list files", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFileRows(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file and everything anchored to it: spans
// (cascade), lexical entries, graph rows for the path, and enrichments
// and embeddings whose span hash no longer exists anywhere.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var fileID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM files WHERE path = ?`, path).Scan(&fileID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		// Hashes that exist only in this file lose their derived rows.
		rows, err := tx.QueryContext(ctx, `
			SELECT span_hash FROM spans WHERE file_id = ?
			AND span_hash NOT IN (SELECT span_hash FROM spans WHERE file_id != ?)`,
			fileID, fileID)
		if err != nil {
			return err
		}
		var goneHashes []string
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return err
			}
			goneHashes = append(goneHashes, h)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
			return err
		}
		for _, h := range goneHashes {
			for _, q := range []string{
				`DELETE FROM span_fts WHERE span_hash = ?`,
				`DELETE FROM embeddings WHERE span_hash = ?`,
				`DELETE FROM enrichments WHERE span_hash = ?`,
				`DELETE FROM failures WHERE span_hash = ?`,
			} {
				if _, err := tx.ExecContext(ctx, q, h); err != nil {
					return err
				}
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relations WHERE src_id IN (SELECT id FROM entities WHERE path_ref = ?)
			 OR dst_id IN (SELECT id FROM entities WHERE path_ref = ?)`, path, path); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE path_ref = ?`, path); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM manifest WHERE path = ?`, path)
		return err
	})
}

// Manifest returns the persisted change-detection manifest.
func (s *Store) Manifest(ctx context.Context) (map[string]ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, mtime, size, content_hash FROM manifest`)
	if err != nil {
		return nil, classifyStoreErr("read manifest", err)
	}
	defer rows.Close()

	out := make(map[string]ManifestEntry)
	for rows.Next() {
		var e ManifestEntry
		var mtime int64
		if err := rows.Scan(&e.Path, &mtime, &e.Size, &e.ContentHash); err != nil {
			return nil, err
		}
		e.MTime = time.Unix(mtime, 0)
		out[e.Path] = e
	}
	return out, rows.Err()
}

// ReplaceManifest atomically replaces the manifest.
func (s *Store) ReplaceManifest(ctx context.Context, entries []ManifestEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM manifest`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO manifest (path, mtime, size, content_hash) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.Path, e.MTime.Unix(), e.Size, e.ContentHash); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanFile(row *sql.Row) (*File, error) {
	var f File
	var mtime int64
	err := row.Scan(&f.ID, &f.Path, &f.ContentHash, &mtime, &f.Language, &f.Size)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classifyStoreErr("scan file", err)
	}
	f.MTime = time.Unix(mtime, 0)
	return &f, nil
}

func scanFileRows(rows *sql.Rows) (*File, error) {
	var f File
	var mtime int64
	if err := rows.Scan(&f.ID, &f.Path, &f.ContentHash, &mtime, &f.Language, &f.Size); err != nil {
		return nil, err
	}
	f.MTime = time.Unix(mtime, 0)
	return &f, nil
}
