package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// UpsertVectorEmbedding writes one embedding row keyed by
// (document_id, section_type, entity_id, embedding_model, embedding_version).
func (s *Store) UpsertVectorEmbedding(ctx context.Context, e *VectorEmbedding) error {
	if err := validateModel(e); err != nil {
		return err
	}
	if got := len(e.Embedding.Slice()); got != e.EmbeddingDim {
		return validationErr("embedding dimension mismatch: declared %d, got %d", e.EmbeddingDim, got)
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO vector_embeddings (document_id, workflow_id, source_chunk_id, section_type,
			entity_type, entity_id, embedding_model, embedding_dim, embedding_version,
			embedding, content_hash, effective_date, location_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (document_id, section_type, entity_id, embedding_model, embedding_version)
		DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			source_chunk_id = EXCLUDED.source_chunk_id,
			entity_type = EXCLUDED.entity_type,
			embedding_dim = EXCLUDED.embedding_dim,
			embedding = EXCLUDED.embedding,
			content_hash = EXCLUDED.content_hash,
			effective_date = EXCLUDED.effective_date,
			location_id = EXCLUDED.location_id
		RETURNING id, created_at`,
		e.DocumentID, e.WorkflowID, e.SourceChunkID, e.SectionType,
		e.EntityType, e.EntityID, e.EmbeddingModel, e.EmbeddingDim, e.EmbeddingVersion,
		e.Embedding, e.ContentHash, e.EffectiveDate, e.LocationID,
	).Scan(&e.ID, &e.CreatedAt)
	return mapError("upsert vector embedding", err)
}

// DeleteEmbeddings removes all embeddings for a (document, workflow) pair.
// Run before re-embedding so stale vectors cannot drift alongside new ones.
func (s *Store) DeleteEmbeddings(ctx context.Context, documentID int64, workflowID *int64) (int64, error) {
	var (
		tagRows int64
		err     error
	)
	if workflowID != nil {
		tag, e := s.db.Exec(ctx, `
			DELETE FROM vector_embeddings WHERE document_id = $1 AND workflow_id = $2`,
			documentID, *workflowID)
		tagRows, err = tag.RowsAffected(), e
	} else {
		tag, e := s.db.Exec(ctx, `
			DELETE FROM vector_embeddings WHERE document_id = $1 AND workflow_id IS NULL`,
			documentID)
		tagRows, err = tag.RowsAffected(), e
	}
	if err != nil {
		return 0, mapError("delete embeddings", err)
	}
	return tagRows, nil
}

// SearchFilters narrow a semantic search.
type SearchFilters struct {
	DocumentIDs  []int64
	WorkflowID   *int64
	SectionTypes []string
	EntityTypes  []string
}

// EmbeddingMatch pairs an embedding row with its cosine distance from the
// query vector.
type EmbeddingMatch struct {
	Embedding VectorEmbedding
	Distance  float64
}

// SemanticSearch returns the topK nearest embeddings by cosine distance,
// after the filters, discarding rows beyond maxDistance when it is > 0.
func (s *Store) SemanticSearch(ctx context.Context, queryVec []float32, topK int, filters SearchFilters, maxDistance float64) ([]EmbeddingMatch, error) {
	if topK <= 0 {
		topK = 10
	}
	vec := pgvector.NewVector(queryVec)

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, document_id, workflow_id, source_chunk_id, section_type, entity_type, entity_id,
			embedding_model, embedding_dim, embedding_version, embedding, content_hash,
			effective_date, location_id, created_at,
			embedding <=> $1 AS distance
		FROM vector_embeddings WHERE true`)
	args := []any{vec}

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if len(filters.DocumentIDs) > 0 {
		sb.WriteString(` AND document_id = ANY(` + arg(filters.DocumentIDs) + `)`)
	}
	if filters.WorkflowID != nil {
		sb.WriteString(` AND workflow_id = ` + arg(*filters.WorkflowID))
	}
	if len(filters.SectionTypes) > 0 {
		sb.WriteString(` AND section_type = ANY(` + arg(filters.SectionTypes) + `)`)
	}
	if len(filters.EntityTypes) > 0 {
		sb.WriteString(` AND entity_type = ANY(` + arg(filters.EntityTypes) + `)`)
	}
	if maxDistance > 0 {
		sb.WriteString(` AND embedding <=> $1 <= ` + arg(maxDistance))
	}
	sb.WriteString(` ORDER BY distance LIMIT ` + arg(topK))

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var matches []EmbeddingMatch
	for rows.Next() {
		var m EmbeddingMatch
		e := &m.Embedding
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.WorkflowID, &e.SourceChunkID, &e.SectionType,
			&e.EntityType, &e.EntityID, &e.EmbeddingModel, &e.EmbeddingDim, &e.EmbeddingVersion,
			&e.Embedding, &e.ContentHash, &e.EffectiveDate, &e.LocationID, &e.CreatedAt,
			&m.Distance); err != nil {
			return nil, fmt.Errorf("scan embedding match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// GetEmbeddingByEntityID fetches one embedding row by its logical identity
// within a document.
func (s *Store) GetEmbeddingByEntityID(ctx context.Context, documentID int64, sectionType, entityID string) (*VectorEmbedding, error) {
	var e VectorEmbedding
	err := s.db.QueryRow(ctx, `
		SELECT id, document_id, workflow_id, source_chunk_id, section_type, entity_type, entity_id,
			embedding_model, embedding_dim, embedding_version, embedding, content_hash,
			effective_date, location_id, created_at
		FROM vector_embeddings
		WHERE document_id = $1 AND section_type = $2 AND entity_id = $3
		ORDER BY created_at DESC LIMIT 1`,
		documentID, sectionType, entityID,
	).Scan(&e.ID, &e.DocumentID, &e.WorkflowID, &e.SourceChunkID, &e.SectionType,
		&e.EntityType, &e.EntityID, &e.EmbeddingModel, &e.EmbeddingDim, &e.EmbeddingVersion,
		&e.Embedding, &e.ContentHash, &e.EffectiveDate, &e.LocationID, &e.CreatedAt)
	if err != nil {
		return nil, mapNotFound("get embedding", err)
	}
	return &e, nil
}

// ListContentHashes returns the content hashes of a (document, workflow)
// pair in entity-id order. Equal hash sets across runs demonstrate
// idempotent indexing.
func (s *Store) ListContentHashes(ctx context.Context, documentID int64, workflowID *int64) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT content_hash FROM vector_embeddings
		WHERE document_id = $1 AND ($2::bigint IS NULL OR workflow_id = $2)
		ORDER BY entity_id`, documentID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list content hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan content hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
