package storage

import (
	"context"
	"fmt"
)

// UpsertCitation writes a citation keyed by (document_id, source_type,
// source_id). Re-runs overwrite spans and verbatim text.
func (s *Store) UpsertCitation(ctx context.Context, c *Citation) error {
	if c.DocumentID == 0 || c.SourceType == "" || c.SourceID == "" {
		return validationErr("citation requires document_id, source_type, source_id")
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO citations (document_id, source_type, source_id, spans, verbatim_text,
			primary_page, page_range, extraction_confidence, extraction_method, clause_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (document_id, source_type, source_id) DO UPDATE SET
			spans = EXCLUDED.spans,
			verbatim_text = EXCLUDED.verbatim_text,
			primary_page = EXCLUDED.primary_page,
			page_range = EXCLUDED.page_range,
			extraction_confidence = EXCLUDED.extraction_confidence,
			extraction_method = EXCLUDED.extraction_method,
			clause_reference = EXCLUDED.clause_reference,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		c.DocumentID, c.SourceType, c.SourceID, c.Spans, c.VerbatimText,
		c.PrimaryPage, c.PageRange, c.ExtractionConfidence, c.ExtractionMethod, c.ClauseReference,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return mapError("upsert citation", err)
}

const citationColumns = `id, document_id, source_type, source_id, spans, verbatim_text,
	primary_page, page_range, extraction_confidence, extraction_method, clause_reference,
	created_at, updated_at`

// GetCitation retrieves a citation by its logical key.
func (s *Store) GetCitation(ctx context.Context, documentID int64, sourceType, sourceID string) (*Citation, error) {
	var c Citation
	err := s.db.QueryRow(ctx, `
		SELECT `+citationColumns+` FROM citations
		WHERE document_id = $1 AND source_type = $2 AND source_id = $3`,
		documentID, sourceType, sourceID,
	).Scan(&c.ID, &c.DocumentID, &c.SourceType, &c.SourceID, &c.Spans, &c.VerbatimText,
		&c.PrimaryPage, &c.PageRange, &c.ExtractionConfidence, &c.ExtractionMethod,
		&c.ClauseReference, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapNotFound("get citation", err)
	}
	return &c, nil
}

// ListCitationsBySourceIDs returns citations for a set of source ids on any
// document, keyed for response attachment.
func (s *Store) ListCitationsBySourceIDs(ctx context.Context, sourceIDs []string) ([]Citation, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+citationColumns+` FROM citations
		WHERE source_id = ANY($1) ORDER BY id`, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("list citations: %w", err)
	}
	defer rows.Close()

	var citations []Citation
	for rows.Next() {
		var c Citation
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.SourceType, &c.SourceID, &c.Spans, &c.VerbatimText,
			&c.PrimaryPage, &c.PageRange, &c.ExtractionConfidence, &c.ExtractionMethod,
			&c.ClauseReference, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan citation: %w", err)
		}
		citations = append(citations, c)
	}
	return citations, rows.Err()
}
