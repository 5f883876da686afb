package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"time"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 blob.
func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// PutEmbedding stores a vector for (span, profile). Dimension must
// match any existing vectors under the profile.
func (s *Store) PutEmbedding(ctx context.Context, e Embedding) error {
	if len(e.Vector) == 0 {
		return llmcerr.New(llmcerr.KindInternal, "empty embedding vector")
	}
	if e.Dim == 0 {
		e.Dim = len(e.Vector)
	}
	if e.Dim != len(e.Vector) {
		return llmcerr.Newf(llmcerr.KindInternal,
			"embedding dim mismatch: declared %d, got %d values", e.Dim, len(e.Vector))
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return putEmbeddingTx(ctx, tx, e)
	})
}

func putEmbeddingTx(ctx context.Context, tx *sql.Tx, e Embedding) error {
	if e.Dim == 0 {
		e.Dim = len(e.Vector)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var existingDim int
	err := tx.QueryRowContext(ctx,
		`SELECT dim FROM embeddings WHERE profile = ? LIMIT 1`, e.Profile).Scan(&existingDim)
	if err == nil && existingDim != e.Dim {
		return llmcerr.Newf(llmcerr.KindConfigInvalid,
			"profile %q holds %d-dim vectors, refusing %d-dim write", e.Profile, existingDim, e.Dim).
			WithRemediation("run llmc index --reembed after changing an embedding model")
	}
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO embeddings (span_hash, profile, vector, dim, provider_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SpanHash, e.Profile, encodeVector(e.Vector), e.Dim, e.ProviderID, e.CreatedAt.Unix())
	return err
}

// GetEmbedding returns the stored vector for (span, profile), or nil.
func (s *Store) GetEmbedding(ctx context.Context, spanHash, profile string) (*Embedding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT span_hash, profile, vector, dim, provider_id, created_at
		FROM embeddings WHERE span_hash = ? AND profile = ?`, spanHash, profile)
	var e Embedding
	var blob []byte
	var createdAt int64
	err := row.Scan(&e.SpanHash, &e.Profile, &blob, &e.Dim, &e.ProviderID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classifyStoreErr("get embedding", err)
	}
	e.Vector = decodeVector(blob)
	e.CreatedAt = time.Unix(createdAt, 0)
	return &e, nil
}

// PendingEmbeddings returns span hashes lacking a vector under the
// given profile, in deterministic order.
func (s *Store) PendingEmbeddings(ctx context.Context, profile string, limit int) ([]PendingSpan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.span_hash, s.file_id, s.kind, s.symbol_name, s.start_line, s.end_line,
		       s.content, s.content_type, s.content_language, s.position, f.path, f.mtime
		FROM spans s
		JOIN files f ON f.id = s.file_id
		WHERE s.span_hash NOT IN (SELECT span_hash FROM embeddings WHERE profile = ?)
		GROUP BY s.span_hash
		ORDER BY f.mtime DESC, f.path, s.position
		LIMIT ?`, profile, limit)
	if err != nil {
		return nil, classifyStoreErr("pending embeddings", err)
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

// ProfileProvider reports the provider and dimension of the vectors
// currently stored under a profile, or ("", 0) when the profile holds
// none. Used to detect model switches that invalidate the profile.
func (s *Store) ProfileProvider(ctx context.Context, profile string) (string, int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT provider_id, dim FROM embeddings WHERE profile = ? LIMIT 1`, profile)
	var provider string
	var dim int
	err := row.Scan(&provider, &dim)
	if err == sql.ErrNoRows {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, classifyStoreErr("profile provider", err)
	}
	return provider, dim, nil
}

// InvalidateProfile drops every vector under a profile. Used when the
// provider or model behind the profile changes.
func (s *Store) InvalidateProfile(ctx context.Context, profile string) (int, error) {
	var dropped int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE profile = ?`, profile)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		dropped = int(n)
		return nil
	})
	return dropped, err
}

// StaleEmbeddings returns hashes whose vectors under profile are older
// than ttl. A zero ttl disables expiry.
func (s *Store) StaleEmbeddings(ctx context.Context, profile string, ttl time.Duration, limit int) ([]string, error) {
	if ttl <= 0 {
		return nil, nil
	}
	cutoff := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_hash FROM embeddings
		WHERE profile = ? AND created_at < ?
		ORDER BY created_at LIMIT ?`, profile, cutoff, limit)
	if err != nil {
		return nil, classifyStoreErr("stale embeddings", err)
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
