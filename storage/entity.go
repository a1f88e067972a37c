package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// MergeAttributes applies the monotonic merge rule to a canonical entity's
// attributes: absent keys are set; description, source_text, and
// definition_text are replaced only by a strictly longer string; every
// other existing key wins over the incoming value. Returns the merged map
// and whether anything changed. Neither input is mutated.
func MergeAttributes(existing, incoming map[string]any) (map[string]any, bool) {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}

	changed := false
	for k, v := range incoming {
		if v == nil {
			continue
		}
		cur, ok := merged[k]
		if !ok || cur == nil {
			merged[k] = v
			changed = true
			continue
		}
		if isGrowableKey(k) {
			curStr, curOK := cur.(string)
			newStr, newOK := v.(string)
			if curOK && newOK && len(newStr) > len(curStr) {
				merged[k] = newStr
				changed = true
			}
		}
		// First writer wins for everything else.
	}
	return merged, changed
}

func isGrowableKey(k string) bool {
	switch k {
	case "description", "source_text", "definition_text":
		return true
	}
	return false
}

// GetOrCreateCanonicalEntity upserts a canonical entity by
// (entity_type, canonical_key). On first sight the base attributes are
// stored as-is; on re-encounter attributes merge monotonically under a row
// lock so concurrent resolvers cannot lose writes. Returns the entity and
// whether it was created by this call.
func (s *Store) GetOrCreateCanonicalEntity(ctx context.Context, entityType, canonicalKey string, base map[string]any) (*CanonicalEntity, bool, error) {
	if entityType == "" || canonicalKey == "" {
		return nil, false, validationErr("entity_type and canonical_key required")
	}

	var e CanonicalEntity
	err := s.db.QueryRow(ctx, `
		INSERT INTO canonical_entities (entity_type, canonical_key, attributes)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_type, canonical_key) DO NOTHING
		RETURNING id, entity_type, canonical_key, attributes, created_at, updated_at`,
		entityType, canonicalKey, base,
	).Scan(&e.ID, &e.EntityType, &e.CanonicalKey, &e.Attributes, &e.CreatedAt, &e.UpdatedAt)
	if err == nil {
		return &e, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, mapError("create canonical entity", err)
	}

	// Conflict path: merge under a row lock.
	var merged *CanonicalEntity
	txErr := s.WithTx(ctx, func(tx *Store) error {
		var cur CanonicalEntity
		err := tx.db.QueryRow(ctx, `
			SELECT id, entity_type, canonical_key, attributes, created_at, updated_at
			FROM canonical_entities
			WHERE entity_type = $1 AND canonical_key = $2
			FOR UPDATE`, entityType, canonicalKey,
		).Scan(&cur.ID, &cur.EntityType, &cur.CanonicalKey, &cur.Attributes, &cur.CreatedAt, &cur.UpdatedAt)
		if err != nil {
			return fmt.Errorf("lock canonical entity: %w", err)
		}

		attrs, changed := MergeAttributes(cur.Attributes, base)
		if changed {
			err = tx.db.QueryRow(ctx, `
				UPDATE canonical_entities SET attributes = $2, updated_at = now()
				WHERE id = $1 RETURNING updated_at`, cur.ID, attrs,
			).Scan(&cur.UpdatedAt)
			if err != nil {
				return fmt.Errorf("merge canonical entity: %w", err)
			}
			cur.Attributes = attrs
		}
		merged = &cur
		return nil
	})
	if txErr != nil {
		return nil, false, txErr
	}
	return merged, false, nil
}

const canonicalColumns = `id, entity_type, canonical_key, attributes, created_at, updated_at`

func scanCanonical(row pgx.Row) (CanonicalEntity, error) {
	var e CanonicalEntity
	err := row.Scan(&e.ID, &e.EntityType, &e.CanonicalKey, &e.Attributes, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// GetCanonicalEntity retrieves a canonical entity by id.
func (s *Store) GetCanonicalEntity(ctx context.Context, id int64) (*CanonicalEntity, error) {
	e, err := scanCanonical(s.db.QueryRow(ctx, `
		SELECT `+canonicalColumns+` FROM canonical_entities WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get canonical entity: %w", err)
	}
	return &e, nil
}

// GetCanonicalEntityByKey retrieves a canonical entity by its identity pair.
func (s *Store) GetCanonicalEntityByKey(ctx context.Context, entityType, canonicalKey string) (*CanonicalEntity, error) {
	e, err := scanCanonical(s.db.QueryRow(ctx, `
		SELECT `+canonicalColumns+` FROM canonical_entities
		WHERE entity_type = $1 AND canonical_key = $2`, entityType, canonicalKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get canonical entity by key: %w", err)
	}
	return &e, nil
}

// FindCanonicalEntityByKeyOnly retrieves a canonical entity when only the
// key is known. Keys are hash-derived, so cross-type collisions are not a
// practical concern.
func (s *Store) FindCanonicalEntityByKeyOnly(ctx context.Context, canonicalKey string) (*CanonicalEntity, error) {
	e, err := scanCanonical(s.db.QueryRow(ctx, `
		SELECT `+canonicalColumns+` FROM canonical_entities WHERE canonical_key = $1 LIMIT 1`, canonicalKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find canonical entity: %w", err)
	}
	return &e, nil
}

// ListCanonicalEntitiesByWorkflow returns the canonical entities in a
// workflow's scope.
func (s *Store) ListCanonicalEntitiesByWorkflow(ctx context.Context, workflowID int64) ([]CanonicalEntity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ce.id, ce.entity_type, ce.canonical_key, ce.attributes, ce.created_at, ce.updated_at
		FROM canonical_entities ce
		JOIN workflow_entity_scope ws ON ws.canonical_entity_id = ce.id
		WHERE ws.workflow_id = $1
		ORDER BY ce.entity_type, ce.id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list canonical entities: %w", err)
	}
	defer rows.Close()

	var entities []CanonicalEntity
	for rows.Next() {
		e, err := scanCanonical(rows)
		if err != nil {
			return nil, fmt.Errorf("scan canonical entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// CreateEntityEvidence binds a canonical entity to a mention.
func (s *Store) CreateEntityEvidence(ctx context.Context, ev *EntityEvidence) error {
	if ev.EvidenceType == "" {
		ev.EvidenceType = EvidenceExtracted
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO entity_evidence (canonical_entity_id, entity_mention_id, document_id, confidence, evidence_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (canonical_entity_id, entity_mention_id) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			evidence_type = EXCLUDED.evidence_type
		RETURNING id, created_at`,
		ev.CanonicalEntityID, ev.EntityMentionID, ev.DocumentID, ev.Confidence, ev.EvidenceType,
	).Scan(&ev.ID, &ev.CreatedAt)
	return mapError("create entity evidence", err)
}

// ListEntityEvidence returns the evidence rows binding a canonical entity
// to its mentions across documents.
func (s *Store) ListEntityEvidence(ctx context.Context, canonicalEntityID int64) ([]EntityEvidence, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, canonical_entity_id, entity_mention_id, document_id, confidence, evidence_type, created_at
		FROM entity_evidence WHERE canonical_entity_id = $1 ORDER BY id`, canonicalEntityID)
	if err != nil {
		return nil, fmt.Errorf("list entity evidence: %w", err)
	}
	defer rows.Close()

	var evidence []EntityEvidence
	for rows.Next() {
		var ev EntityEvidence
		if err := rows.Scan(&ev.ID, &ev.CanonicalEntityID, &ev.EntityMentionID, &ev.DocumentID,
			&ev.Confidence, &ev.EvidenceType, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity evidence: %w", err)
		}
		evidence = append(evidence, ev)
	}
	return evidence, rows.Err()
}
