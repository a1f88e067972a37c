package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateSectionExtraction upserts the structured extraction for one section
// of one document within one pipeline run.
func (s *Store) CreateSectionExtraction(ctx context.Context, e *SectionExtraction) error {
	if err := validateModel(e); err != nil {
		return err
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO section_extractions (document_id, workflow_id, section_type, pipeline_run_id,
			extracted_fields, page_range, confidence, source_chunks, model_version, prompt_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (document_id, workflow_id, section_type, pipeline_run_id) DO UPDATE SET
			extracted_fields = EXCLUDED.extracted_fields,
			page_range = EXCLUDED.page_range,
			confidence = EXCLUDED.confidence,
			source_chunks = EXCLUDED.source_chunks,
			model_version = EXCLUDED.model_version,
			prompt_version = EXCLUDED.prompt_version
		RETURNING id, created_at`,
		e.DocumentID, e.WorkflowID, e.SectionType, e.PipelineRunID,
		e.ExtractedFields, e.PageRange, e.Confidence, e.SourceChunks, e.ModelVersion, e.PromptVersion,
	).Scan(&e.ID, &e.CreatedAt)
	return mapError("create section extraction", err)
}

const extractionColumns = `id, document_id, workflow_id, section_type, pipeline_run_id,
	extracted_fields, page_range, confidence, source_chunks, model_version, prompt_version, created_at`

func scanExtraction(row pgx.Row) (SectionExtraction, error) {
	var e SectionExtraction
	err := row.Scan(&e.ID, &e.DocumentID, &e.WorkflowID, &e.SectionType, &e.PipelineRunID,
		&e.ExtractedFields, &e.PageRange, &e.Confidence, &e.SourceChunks,
		&e.ModelVersion, &e.PromptVersion, &e.CreatedAt)
	return e, err
}

// GetLatestSectionExtraction returns the most recent extraction of one
// section for a document within a workflow.
func (s *Store) GetLatestSectionExtraction(ctx context.Context, documentID, workflowID int64, sectionType string) (*SectionExtraction, error) {
	e, err := scanExtraction(s.db.QueryRow(ctx, `
		SELECT `+extractionColumns+` FROM section_extractions
		WHERE document_id = $1 AND workflow_id = $2 AND section_type = $3
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		documentID, workflowID, sectionType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get section extraction: %w", err)
	}
	return &e, nil
}

// ListSectionExtractions returns the latest extraction per section for a
// document within a workflow.
func (s *Store) ListSectionExtractions(ctx context.Context, documentID, workflowID int64) ([]SectionExtraction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (section_type) `+extractionColumns+`
		FROM section_extractions
		WHERE document_id = $1 AND workflow_id = $2
		ORDER BY section_type, created_at DESC, id DESC`,
		documentID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list section extractions: %w", err)
	}
	defer rows.Close()

	var extractions []SectionExtraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section extraction: %w", err)
		}
		extractions = append(extractions, e)
	}
	return extractions, rows.Err()
}

// CreateEntityMention inserts a document-scoped entity occurrence.
func (s *Store) CreateEntityMention(ctx context.Context, m *EntityMention) error {
	if err := validateModel(m); err != nil {
		return err
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO entity_mentions (document_id, entity_type, mention_text, extracted_fields,
			confidence, source_document_chunk_id, source_stable_chunk_id, section_extraction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		m.DocumentID, m.EntityType, m.MentionText, m.ExtractedFields,
		m.Confidence, m.SourceDocumentChunkID, m.SourceStableChunkID, m.SectionExtractionID,
	).Scan(&m.ID, &m.CreatedAt)
	return mapError("create entity mention", err)
}

// ListEntityMentions returns a document's mentions in insertion order.
func (s *Store) ListEntityMentions(ctx context.Context, documentID int64) ([]EntityMention, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, entity_type, mention_text, extracted_fields, confidence,
			source_document_chunk_id, source_stable_chunk_id, section_extraction_id, created_at
		FROM entity_mentions WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list entity mentions: %w", err)
	}
	defer rows.Close()

	var mentions []EntityMention
	for rows.Next() {
		var m EntityMention
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.EntityType, &m.MentionText, &m.ExtractedFields,
			&m.Confidence, &m.SourceDocumentChunkID, &m.SourceStableChunkID,
			&m.SectionExtractionID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity mention: %w", err)
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}
