package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetStatus returns the singleton index status row.
func (s *Store) GetStatus(ctx context.Context) (*IndexStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT repo_path, state, last_indexed_at, last_indexed_commit, schema_version, last_error
		FROM index_status WHERE id = 1`)
	var st IndexStatus
	var indexedAt int64
	var state string
	err := row.Scan(&st.RepoPath, &state, &indexedAt, &st.LastIndexedCommit, &st.SchemaVersion, &st.LastError)
	if err != nil {
		return nil, classifyStoreErr("get status", err)
	}
	st.State = IndexState(state)
	if indexedAt > 0 {
		st.LastIndexedAt = time.Unix(indexedAt, 0)
	}
	return &st, nil
}

// SetStatus replaces the status row.
func (s *Store) SetStatus(ctx context.Context, st IndexStatus) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE index_status
			SET repo_path = ?, state = ?, last_indexed_at = ?, last_indexed_commit = ?,
			    schema_version = ?, last_error = ?
			WHERE id = 1`,
			st.RepoPath, string(st.State), st.LastIndexedAt.Unix(), st.LastIndexedCommit,
			st.SchemaVersion, st.LastError)
		return err
	})
}

// SetState transitions the state, preserving the rest of the row.
func (s *Store) SetState(ctx context.Context, state IndexState, lastError string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE index_status SET state = ?, last_error = ? WHERE id = 1`,
			string(state), lastError)
		return err
	})
}

// Stats gathers the index-wide counters in one pass.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Embeddings: make(map[string]int), Writes: s.WriteCount()}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM files`, &st.Files},
		{`SELECT COUNT(DISTINCT span_hash) FROM spans`, &st.Spans},
		{`SELECT COUNT(*) FROM enrichments`, &st.Enrichments},
		{`SELECT COUNT(DISTINCT span_hash) FROM spans
		  WHERE span_hash NOT IN (SELECT span_hash FROM enrichments)`, &st.PendingEnrichments},
		{`SELECT COUNT(*) FROM enrichments
		  WHERE span_hash NOT IN (SELECT span_hash FROM spans)`, &st.OrphanEnrichments},
		{`SELECT COUNT(*) FROM entities`, &st.Entities},
		{`SELECT COUNT(*) FROM relations`, &st.Relations},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, classifyStoreErr("stats", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT profile, COUNT(*) FROM embeddings GROUP BY profile`)
	if err != nil {
		return nil, classifyStoreErr("stats embeddings", err)
	}
	defer rows.Close()
	for rows.Next() {
		var profile string
		var n int
		if err := rows.Scan(&profile, &n); err != nil {
			return nil, err
		}
		st.Embeddings[profile] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Pending embeddings counts against the profile with the fewest
	// vectors; with a single profile this is exact.
	minEmbedded := 0
	for _, n := range st.Embeddings {
		if minEmbedded == 0 || n < minEmbedded {
			minEmbedded = n
		}
	}
	if st.Spans > minEmbedded {
		st.PendingEmbeddings = st.Spans - minEmbedded
	}
	return st, nil
}

// HealthCheck builds the health snapshot: current state plus the most
// useful pointers at what is behind.
func (s *Store) HealthCheck(ctx context.Context) (*Health, error) {
	status, err := s.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	h := &Health{Status: status.State}
	if status.LastError != "" {
		h.Issues = append(h.Issues, status.LastError)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.path, COUNT(*) AS pending
		FROM spans s JOIN files f ON f.id = s.file_id
		WHERE s.span_hash NOT IN (SELECT span_hash FROM enrichments)
		GROUP BY f.path
		ORDER BY pending DESC, f.path
		LIMIT 5`)
	if err != nil {
		return nil, classifyStoreErr("health pending files", err)
	}
	defer rows.Close()
	for rows.Next() {
		var path string
		var pending int
		if err := rows.Scan(&path, &pending); err != nil {
			return nil, err
		}
		h.TopPendingFiles = append(h.TopPendingFiles, fmt.Sprintf("%s (%d pending)", path, pending))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orphans, err := s.OrphanEnrichments(ctx)
	if err != nil {
		return nil, err
	}
	if len(orphans) > 0 {
		h.Orphans = orphans
		h.Issues = append(h.Issues, fmt.Sprintf("%d orphaned enrichments awaiting reap or reconnect", len(orphans)))
	}
	return h, nil
}
