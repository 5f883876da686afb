package store

import (
	"context"
	"database/sql"
	"encoding/json"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// UpsertEntities writes graph nodes in one transaction.
func (s *Store) UpsertEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO entities (id, kind, path_ref, metadata)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entities {
			if e.ID == "" {
				return llmcerr.New(llmcerr.KindInternal, "entity with empty id")
			}
			meta := "{}"
			if len(e.Metadata) > 0 {
				b, merr := json.Marshal(e.Metadata)
				if merr != nil {
					return merr
				}
				meta = string(b)
			}
			if _, err := stmt.ExecContext(ctx, e.ID, e.Kind, e.PathRef, meta); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutRelations writes edges, validating both endpoints exist. Edges to
// unknown entities are a builder bug, not data.
func (s *Store) PutRelations(ctx context.Context, relations []Relation) error {
	if len(relations) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		check, err := tx.PrepareContext(ctx, `SELECT 1 FROM entities WHERE id = ?`)
		if err != nil {
			return err
		}
		defer check.Close()
		insert, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO relations (src_id, edge_type, dst_id) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer insert.Close()

		for _, r := range relations {
			for _, id := range []string{r.SrcID, r.DstID} {
				var one int
				if err := check.QueryRowContext(ctx, id).Scan(&one); err == sql.ErrNoRows {
					return llmcerr.Newf(llmcerr.KindInternal,
						"relation %s -[%s]-> %s references unknown entity %q",
						r.SrcID, r.EdgeType, r.DstID, id)
				} else if err != nil {
					return err
				}
			}
			if _, err := insert.ExecContext(ctx, r.SrcID, r.EdgeType, r.DstID); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetEntity returns one node, or nil.
func (s *Store) GetEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, path_ref, metadata FROM entities WHERE id = ?`, id)
	var e Entity
	var meta string
	err := row.Scan(&e.ID, &e.Kind, &e.PathRef, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classifyStoreErr("get entity", err)
	}
	_ = json.Unmarshal([]byte(meta), &e.Metadata)
	return &e, nil
}

// FindEntities returns nodes whose ID matches the LIKE pattern.
func (s *Store) FindEntities(ctx context.Context, pattern string) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, path_ref, metadata FROM entities WHERE id LIKE ? ORDER BY id`, pattern)
	if err != nil {
		return nil, classifyStoreErr("find entities", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var meta string
		if err := rows.Scan(&e.ID, &e.Kind, &e.PathRef, &meta); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Neighbor is one traversal hit with its hop distance from the seed.
type Neighbor struct {
	Entity   Entity
	EdgeType string
	Distance int
	Inbound  bool // true when the edge points at the seed side
}

// Neighbors walks the graph breadth-first from a seed up to maxHops,
// following edges in both directions. edgeTypes restricts the walk
// when non-empty. Each node is visited once at its shortest distance.
func (s *Store) Neighbors(ctx context.Context, seedID string, maxHops int, edgeTypes []string) ([]Neighbor, error) {
	if maxHops <= 0 {
		return nil, nil
	}
	allowed := make(map[string]bool, len(edgeTypes))
	for _, t := range edgeTypes {
		allowed[t] = true
	}

	visited := map[string]bool{seedID: true}
	frontier := []string{seedID}
	var out []Neighbor

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			rows, err := s.db.QueryContext(ctx, `
				SELECT dst_id, edge_type, 0 FROM relations WHERE src_id = ?
				UNION ALL
				SELECT src_id, edge_type, 1 FROM relations WHERE dst_id = ?`, id, id)
			if err != nil {
				return nil, classifyStoreErr("neighbors", err)
			}
			type edge struct {
				id, typ string
				inbound bool
			}
			var edges []edge
			for rows.Next() {
				var e edge
				var inbound int
				if err := rows.Scan(&e.id, &e.typ, &inbound); err != nil {
					rows.Close()
					return nil, err
				}
				e.inbound = inbound == 1
				edges = append(edges, e)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, err
			}

			for _, e := range edges {
				if len(allowed) > 0 && !allowed[e.typ] {
					continue
				}
				if visited[e.id] {
					continue
				}
				visited[e.id] = true
				ent, err := s.GetEntity(ctx, e.id)
				if err != nil {
					return nil, err
				}
				if ent == nil {
					continue
				}
				out = append(out, Neighbor{Entity: *ent, EdgeType: e.typ, Distance: hop, Inbound: e.inbound})
				next = append(next, e.id)
			}
		}
		frontier = next
	}
	return out, nil
}

// Callers returns entities with a "calls" edge into target, one hop.
func (s *Store) Callers(ctx context.Context, targetID string) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.kind, e.path_ref, e.metadata
		FROM relations r JOIN entities e ON e.id = r.src_id
		WHERE r.dst_id = ? AND r.edge_type = 'calls'
		ORDER BY e.id`, targetID)
	if err != nil {
		return nil, classifyStoreErr("callers", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var meta string
		if err := rows.Scan(&e.ID, &e.Kind, &e.PathRef, &meta); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEntitiesForPath removes a path's nodes and their edges. The
// graph builder calls this before re-emitting a changed file.
func (s *Store) DeleteEntitiesForPath(ctx context.Context, path string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM relations
			WHERE src_id IN (SELECT id FROM entities WHERE path_ref = ?)
			OR dst_id IN (SELECT id FROM entities WHERE path_ref = ?)`, path, path); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE path_ref = ?`, path)
		return err
	})
}

// ReplaceGraphForPath atomically swaps a path's graph contribution:
// outbound edges are rebuilt from the new build, entities that
// disappeared lose their inbound edges too, but inbound edges into
// surviving entities stay intact.
func (s *Store) ReplaceGraphForPath(ctx context.Context, path string, entities []Entity, relations []Relation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Outbound edges always rebuild.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM relations
			WHERE src_id IN (SELECT id FROM entities WHERE path_ref = ?)`, path); err != nil {
			return err
		}

		keep := make(map[string]bool, len(entities))
		for _, e := range entities {
			keep[e.ID] = true
		}
		rows, err := tx.QueryContext(ctx, `SELECT id FROM entities WHERE path_ref = ?`, path)
		if err != nil {
			return err
		}
		var gone []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			if !keep[id] {
				gone = append(gone, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range gone {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM relations WHERE dst_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
				return err
			}
		}

		for _, e := range entities {
			if e.ID == "" {
				return llmcerr.New(llmcerr.KindInternal, "entity with empty id")
			}
			meta := "{}"
			if len(e.Metadata) > 0 {
				b, merr := json.Marshal(e.Metadata)
				if merr != nil {
					return merr
				}
				meta = string(b)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO entities (id, kind, path_ref, metadata)
				VALUES (?, ?, ?, ?)`, e.ID, e.Kind, e.PathRef, meta); err != nil {
				return err
			}
		}
		for _, r := range relations {
			for _, id := range []string{r.SrcID, r.DstID} {
				var one int
				if err := tx.QueryRowContext(ctx,
					`SELECT 1 FROM entities WHERE id = ?`, id).Scan(&one); err == sql.ErrNoRows {
					return llmcerr.Newf(llmcerr.KindInternal,
						"relation %s -[%s]-> %s references unknown entity %q",
						r.SrcID, r.EdgeType, r.DstID, id)
				} else if err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO relations (src_id, edge_type, dst_id)
				VALUES (?, ?, ?)`, r.SrcID, r.EdgeType, r.DstID); err != nil {
				return err
			}
		}
		return nil
	})
}
