package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PutEnrichment stores metadata for a span hash. The hash is the join
// key: if the same content reappears later in any file, the row
// reconnects without a new LLM call.
func (s *Store) PutEnrichment(ctx context.Context, e Enrichment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return putEnrichmentTx(ctx, tx, e)
	})
}

func putEnrichmentTx(ctx context.Context, tx *sql.Tx, e Enrichment) error {
	inputs, _ := json.Marshal(e.Inputs)
	outputs, _ := json.Marshal(e.Outputs)
	sideEffects, _ := json.Marshal(e.SideEffects)
	pitfalls, _ := json.Marshal(e.Pitfalls)
	evidence, _ := json.Marshal(e.Evidence)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO enrichments
		(span_hash, summary, inputs, outputs, side_effects, pitfalls, usage_snippet, evidence, model_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SpanHash, e.Summary, string(inputs), string(outputs), string(sideEffects),
		string(pitfalls), e.UsageSnippet, string(evidence), e.ModelID, e.CreatedAt.Unix())
	return err
}

// GetEnrichment returns the enrichment for a span hash, or nil.
func (s *Store) GetEnrichment(ctx context.Context, spanHash string) (*Enrichment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT span_hash, summary, inputs, outputs, side_effects, pitfalls,
		       usage_snippet, evidence, model_id, created_at
		FROM enrichments WHERE span_hash = ?`, spanHash)
	return scanEnrichment(row.Scan)
}

// GetEnrichments returns enrichments for a hash set, keyed by hash.
func (s *Store) GetEnrichments(ctx context.Context, hashes []string) (map[string]*Enrichment, error) {
	out := make(map[string]*Enrichment, len(hashes))
	for _, h := range hashes {
		e, err := s.GetEnrichment(ctx, h)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out[h] = e
		}
	}
	return out, nil
}

// OrphanEnrichments lists enrichment hashes with no live span, oldest
// first. Orphans are reported, never silently dropped; ReapOrphans
// applies the retention policy.
func (s *Store) OrphanEnrichments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_hash FROM enrichments
		WHERE span_hash NOT IN (SELECT span_hash FROM spans)
		ORDER BY created_at, span_hash`)
	if err != nil {
		return nil, classifyStoreErr("orphan enrichments", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ReapOrphans deletes orphaned enrichments older than ttl and returns
// how many were removed.
func (s *Store) ReapOrphans(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	var reaped int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM enrichments
			WHERE span_hash NOT IN (SELECT span_hash FROM spans)
			AND created_at < ?`, cutoff)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		reaped = int(n)
		// Failure records for dead hashes go with them.
		_, err = tx.ExecContext(ctx, `
			DELETE FROM failures
			WHERE span_hash NOT IN (SELECT span_hash FROM spans)
			AND span_hash NOT IN (SELECT span_hash FROM enrichments)`)
		return err
	})
	return reaped, err
}

// RecordFailure upserts a failure record for (span, tier), bumping the
// attempt counter and extending the cooldown.
func (s *Store) RecordFailure(ctx context.Context, f FailureRecord) error {
	if f.LastSeenAt.IsZero() {
		f.LastSeenAt = time.Now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO failures (span_hash, tier, reason, attempts, cooldown_until, last_seen_at)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT (span_hash, tier) DO UPDATE SET
				reason = excluded.reason,
				attempts = failures.attempts + 1,
				cooldown_until = excluded.cooldown_until,
				last_seen_at = excluded.last_seen_at`,
			f.SpanHash, f.Tier, f.Reason, f.CooldownUntil.Unix(), f.LastSeenAt.Unix())
		return err
	})
}

// FailuresForSpan returns all tier failure records for a span hash.
func (s *Store) FailuresForSpan(ctx context.Context, spanHash string) ([]FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_hash, tier, reason, attempts, cooldown_until, last_seen_at
		FROM failures WHERE span_hash = ? ORDER BY tier`, spanHash)
	if err != nil {
		return nil, classifyStoreErr("failures for span", err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var cooldown, seen int64
		if err := rows.Scan(&f.SpanHash, &f.Tier, &f.Reason, &f.Attempts, &cooldown, &seen); err != nil {
			return nil, err
		}
		f.CooldownUntil = time.Unix(cooldown, 0)
		f.LastSeenAt = time.Unix(seen, 0)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ClearFailures removes failure records once a span enriches.
func (s *Store) ClearFailures(ctx context.Context, spanHash string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM failures WHERE span_hash = ?`, spanHash)
		return err
	})
}

func scanEnrichment(scan func(dest ...any) error) (*Enrichment, error) {
	var e Enrichment
	var inputs, outputs, sideEffects, pitfalls, evidence string
	var createdAt int64
	err := scan(&e.SpanHash, &e.Summary, &inputs, &outputs, &sideEffects, &pitfalls,
		&e.UsageSnippet, &evidence, &e.ModelID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classifyStoreErr("scan enrichment", err)
	}
	_ = json.Unmarshal([]byte(inputs), &e.Inputs)
	_ = json.Unmarshal([]byte(outputs), &e.Outputs)
	_ = json.Unmarshal([]byte(sideEffects), &e.SideEffects)
	_ = json.Unmarshal([]byte(pitfalls), &e.Pitfalls)
	_ = json.Unmarshal([]byte(evidence), &e.Evidence)
	e.CreatedAt = time.Unix(createdAt, 0)
	return &e, nil
}
