package store

import (
	"database/sql"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// migration is one forward schema step. Migrations are idempotent and
// run inside a transaction; a failed migration leaves the store
// untouched.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, apply: migrateV1},
	{version: 2, apply: migrateV2},
}

// migrate brings the on-disk schema up to CurrentSchemaVersion.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	)`); err != nil {
		return llmcerr.Wrap(llmcerr.KindMigrationFailed, "create schema_version", err)
	}

	current := 0
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return llmcerr.Wrap(llmcerr.KindMigrationFailed, "read schema version", err)
	}
	if current > CurrentSchemaVersion {
		return llmcerr.Newf(llmcerr.KindMigrationFailed,
			"on-disk schema v%d is newer than code v%d", current, CurrentSchemaVersion).
			WithRemediation("upgrade llmc")
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return llmcerr.Wrap(llmcerr.KindMigrationFailed, "begin migration", err)
		}
		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return llmcerr.Wrap(llmcerr.KindMigrationFailed, "apply migration", err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return llmcerr.Wrap(llmcerr.KindMigrationFailed, "record migration", err)
		}
		if err := tx.Commit(); err != nil {
			return llmcerr.Wrap(llmcerr.KindMigrationFailed, "commit migration", err)
		}
	}
	return nil
}

// migrateV1 creates the base schema.
func migrateV1(tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		content_hash TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS spans (
		span_hash TEXT NOT NULL,
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		symbol_name TEXT NOT NULL DEFAULT '',
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		content TEXT NOT NULL,
		content_type TEXT NOT NULL,
		content_language TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (file_id, span_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_spans_hash ON spans(span_hash);

	CREATE VIRTUAL TABLE IF NOT EXISTS span_fts USING fts5(
		span_hash UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS enrichments (
		span_hash TEXT PRIMARY KEY,
		summary TEXT NOT NULL,
		inputs TEXT NOT NULL DEFAULT '[]',
		outputs TEXT NOT NULL DEFAULT '[]',
		side_effects TEXT NOT NULL DEFAULT '[]',
		pitfalls TEXT NOT NULL DEFAULT '[]',
		usage_snippet TEXT NOT NULL DEFAULT '',
		evidence TEXT NOT NULL DEFAULT '[]',
		model_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		span_hash TEXT NOT NULL,
		profile TEXT NOT NULL,
		vector BLOB NOT NULL,
		dim INTEGER NOT NULL,
		provider_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (span_hash, profile)
	);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		path_ref TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_entities_path ON entities(path_ref);

	CREATE TABLE IF NOT EXISTS relations (
		src_id TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		dst_id TEXT NOT NULL,
		PRIMARY KEY (src_id, edge_type, dst_id)
	);
	CREATE INDEX IF NOT EXISTS idx_relations_dst ON relations(dst_id);

	CREATE TABLE IF NOT EXISTS manifest (
		path TEXT PRIMARY KEY,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL,
		content_hash TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS index_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		repo_path TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'empty',
		last_indexed_at INTEGER NOT NULL DEFAULT 0,
		last_indexed_commit TEXT NOT NULL DEFAULT '',
		schema_version INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	);
	INSERT OR IGNORE INTO index_status (id) VALUES (1);
	`
	_, err := tx.Exec(schema)
	return err
}

// migrateV2 adds failure tracking for the enrichment cascade.
func migrateV2(tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS failures (
		span_hash TEXT NOT NULL,
		tier TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		cooldown_until INTEGER NOT NULL DEFAULT 0,
		last_seen_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (span_hash, tier)
	);
	`
	_, err := tx.Exec(schema)
	return err
}
