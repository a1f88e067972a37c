package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// UpsertRelationship writes a directed edge keyed by
// (source, target, relationship_type). On re-encounter, evidence arrays
// union (deduplicated by quote or table reference) and confidence takes
// the maximum, under a row lock.
func (s *Store) UpsertRelationship(ctx context.Context, r *EntityRelationship) error {
	if err := validateModel(r); err != nil {
		return err
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO entity_relationships (source_entity_id, target_entity_id, relationship_type,
			confidence, attributes, document_id, workflow_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_entity_id, target_entity_id, relationship_type) DO NOTHING
		RETURNING id, created_at, updated_at`,
		r.SourceEntityID, r.TargetEntityID, r.RelationshipType,
		r.Confidence, r.Attributes, r.DocumentID, r.WorkflowID,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return mapError("create relationship", err)
	}

	return s.WithTx(ctx, func(tx *Store) error {
		var cur EntityRelationship
		err := tx.db.QueryRow(ctx, `
			SELECT id, confidence, attributes, created_at, updated_at
			FROM entity_relationships
			WHERE source_entity_id = $1 AND target_entity_id = $2 AND relationship_type = $3
			FOR UPDATE`, r.SourceEntityID, r.TargetEntityID, r.RelationshipType,
		).Scan(&cur.ID, &cur.Confidence, &cur.Attributes, &cur.CreatedAt, &cur.UpdatedAt)
		if err != nil {
			return fmt.Errorf("lock relationship: %w", err)
		}

		attrs := mergeRelationshipAttributes(cur.Attributes, r.Attributes)
		conf := cur.Confidence
		if r.Confidence > conf {
			conf = r.Confidence
		}
		err = tx.db.QueryRow(ctx, `
			UPDATE entity_relationships SET confidence = $2, attributes = $3, updated_at = now()
			WHERE id = $1 RETURNING created_at, updated_at`, cur.ID, conf, attrs,
		).Scan(&r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("merge relationship: %w", err)
		}
		r.ID = cur.ID
		r.Confidence = conf
		r.Attributes = attrs
		return nil
	})
}

// mergeRelationshipAttributes unions evidence arrays and first-writer-wins
// the remaining keys.
func mergeRelationshipAttributes(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		if k == "evidence" {
			continue
		}
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	merged["evidence"] = unionEvidence(asSlice(existing["evidence"]), asSlice(incoming["evidence"]))
	return merged
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

// unionEvidence appends elements of b not already present in a. Elements
// dedup by quote text when present, otherwise by table reference.
func unionEvidence(a, b []any) []any {
	seen := make(map[string]struct{}, len(a))
	out := make([]any, 0, len(a)+len(b))
	for _, e := range a {
		seen[evidenceKey(e)] = struct{}{}
		out = append(out, e)
	}
	for _, e := range b {
		k := evidenceKey(e)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

func evidenceKey(e any) string {
	m, ok := e.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", e)
	}
	if q, ok := m["quote"].(string); ok && q != "" {
		return "q:" + q
	}
	for _, k := range []string{"sov_id", "claim_id", "table_id"} {
		if v, ok := m[k]; ok && v != nil {
			return fmt.Sprintf("%s:%v", k, v)
		}
	}
	return fmt.Sprintf("%v", m)
}

const relationshipColumns = `id, source_entity_id, target_entity_id, relationship_type,
	confidence, attributes, document_id, workflow_id, created_at, updated_at`

func scanRelationship(row pgx.Row) (EntityRelationship, error) {
	var r EntityRelationship
	err := row.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationshipType,
		&r.Confidence, &r.Attributes, &r.DocumentID, &r.WorkflowID, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListRelationshipsByWorkflow returns the edges in a workflow's scope.
func (s *Store) ListRelationshipsByWorkflow(ctx context.Context, workflowID int64) ([]EntityRelationship, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+prefixColumns("er", relationshipColumns)+`
		FROM entity_relationships er
		JOIN workflow_relationship_scope ws ON ws.relationship_id = er.id
		WHERE ws.workflow_id = $1
		ORDER BY er.id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// TraverseRelationships walks the edge set breadth-first from the seed
// entities up to maxDepth hops using a recursive CTE, optionally restricted
// to an allowed relationship-type set. Both edge directions are followed.
func (s *Store) TraverseRelationships(ctx context.Context, seedIDs []int64, maxDepth int, relTypes []string) ([]EntityRelationship, error) {
	if len(seedIDs) == 0 || maxDepth <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		WITH RECURSIVE frontier (entity_id, depth) AS (
			SELECT unnest($1::bigint[]), 0
			UNION
			SELECT CASE WHEN er.source_entity_id = f.entity_id
				THEN er.target_entity_id ELSE er.source_entity_id END,
				f.depth + 1
			FROM entity_relationships er
			JOIN frontier f ON f.entity_id IN (er.source_entity_id, er.target_entity_id)
			WHERE f.depth < $2
				AND (cardinality($3::text[]) = 0 OR er.relationship_type = ANY($3))
		)
		SELECT DISTINCT `+prefixColumns("er", relationshipColumns)+`
		FROM entity_relationships er
		WHERE (er.source_entity_id IN (SELECT entity_id FROM frontier)
			OR er.target_entity_id IN (SELECT entity_id FROM frontier))
			AND (cardinality($3::text[]) = 0 OR er.relationship_type = ANY($3))
		ORDER BY er.id`, seedIDs, maxDepth, relTypes)
	if err != nil {
		return nil, fmt.Errorf("traverse relationships: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// DeleteRelationshipsByWorkflow removes a workflow's contributed edges and
// scope rows. Used by compensation.
func (s *Store) DeleteRelationshipsByWorkflow(ctx context.Context, workflowID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM entity_relationships er
		WHERE er.id IN (SELECT relationship_id FROM workflow_relationship_scope WHERE workflow_id = $1)`,
		workflowID)
	if err != nil {
		return 0, mapError("delete workflow relationships", err)
	}
	if _, err := s.db.Exec(ctx, `
		DELETE FROM workflow_relationship_scope WHERE workflow_id = $1`, workflowID); err != nil {
		return 0, mapError("delete relationship scope", err)
	}
	return tag.RowsAffected(), nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func collectRelationships(rows pgx.Rows) ([]EntityRelationship, error) {
	var rels []EntityRelationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}
