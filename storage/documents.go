package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateDocument inserts a document and fills its generated fields.
func (s *Store) CreateDocument(ctx context.Context, d *Document) error {
	if err := validateModel(d); err != nil {
		return err
	}
	if d.Status == "" {
		d.Status = DocumentStatusUploaded
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO documents (filename, file_path, mime_type, page_count, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		d.Filename, d.FilePath, d.MimeType, d.PageCount, d.Status, d.Metadata,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	return mapError("create document", err)
}

// GetDocument retrieves a document by id.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	var d Document
	err := s.db.QueryRow(ctx, `
		SELECT id, filename, file_path, mime_type, page_count, status, metadata, created_at, updated_at
		FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Filename, &d.FilePath, &d.MimeType, &d.PageCount, &d.Status, &d.Metadata, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

// UpdateDocumentStatus advances a document's ingestion status.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status DocumentStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return mapError("update document status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPages writes page geometry, replacing rows on re-import.
func (s *Store) UpsertPages(ctx context.Context, pages []DocumentPage) error {
	for i := range pages {
		p := &pages[i]
		err := s.db.QueryRow(ctx, `
			INSERT INTO document_pages (document_id, page_number, width_points, height_points, rotation, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (document_id, page_number) DO UPDATE SET
				width_points = EXCLUDED.width_points,
				height_points = EXCLUDED.height_points,
				rotation = EXCLUDED.rotation,
				metadata = EXCLUDED.metadata
			RETURNING id, created_at`,
			p.DocumentID, p.PageNumber, p.WidthPoints, p.HeightPoints, p.Rotation, p.Metadata,
		).Scan(&p.ID, &p.CreatedAt)
		if err != nil {
			return mapError("upsert page", err)
		}
	}
	return nil
}

// GetPage retrieves one page's geometry.
func (s *Store) GetPage(ctx context.Context, documentID int64, pageNumber int) (*DocumentPage, error) {
	var p DocumentPage
	err := s.db.QueryRow(ctx, `
		SELECT id, document_id, page_number, width_points, height_points, rotation, metadata, created_at
		FROM document_pages WHERE document_id = $1 AND page_number = $2`,
		documentID, pageNumber,
	).Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.WidthPoints, &p.HeightPoints, &p.Rotation, &p.Metadata, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return &p, nil
}

// ListPages returns all pages of a document ordered by page number.
func (s *Store) ListPages(ctx context.Context, documentID int64) ([]DocumentPage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, page_number, width_points, height_points, rotation, metadata, created_at
		FROM document_pages WHERE document_id = $1 ORDER BY page_number`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []DocumentPage
	for rows.Next() {
		var p DocumentPage
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.WidthPoints, &p.HeightPoints, &p.Rotation, &p.Metadata, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpsertChunks writes document chunks keyed by stable chunk id.
func (s *Store) UpsertChunks(ctx context.Context, chunks []DocumentChunk) error {
	for i := range chunks {
		c := &chunks[i]
		if c.StableChunkID == "" {
			return validationErr("chunk %d missing stable_chunk_id", i)
		}
		err := s.db.QueryRow(ctx, `
			INSERT INTO document_chunks (document_id, stable_chunk_id, page_number, chunk_index,
				section_type, effective_section_type, subsection_type, raw_text, token_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (stable_chunk_id) DO UPDATE SET
				section_type = EXCLUDED.section_type,
				effective_section_type = EXCLUDED.effective_section_type,
				subsection_type = EXCLUDED.subsection_type,
				raw_text = EXCLUDED.raw_text,
				token_count = EXCLUDED.token_count
			RETURNING id, created_at`,
			c.DocumentID, c.StableChunkID, c.PageNumber, c.ChunkIndex,
			c.SectionType, c.EffectiveSectionType, c.SubsectionType, c.RawText, c.TokenCount,
		).Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			return mapError("upsert chunk", err)
		}
	}
	return nil
}

const chunkColumns = `id, document_id, stable_chunk_id, page_number, chunk_index,
	section_type, effective_section_type, subsection_type, raw_text, token_count, created_at`

func scanChunk(row pgx.Row) (DocumentChunk, error) {
	var c DocumentChunk
	err := row.Scan(&c.ID, &c.DocumentID, &c.StableChunkID, &c.PageNumber, &c.ChunkIndex,
		&c.SectionType, &c.EffectiveSectionType, &c.SubsectionType, &c.RawText, &c.TokenCount, &c.CreatedAt)
	return c, err
}

// ListChunks returns a document's chunks in page, chunk-index order.
func (s *Store) ListChunks(ctx context.Context, documentID int64) ([]DocumentChunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+chunkColumns+` FROM document_chunks
		WHERE document_id = $1 ORDER BY page_number, chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ListChunksBySection returns a document's chunks for one effective section
// type, in reading order.
func (s *Store) ListChunksBySection(ctx context.Context, documentID int64, sectionType string) ([]DocumentChunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+chunkColumns+` FROM document_chunks
		WHERE document_id = $1 AND effective_section_type = $2
		ORDER BY page_number, chunk_index`, documentID, sectionType)
	if err != nil {
		return nil, fmt.Errorf("list chunks by section: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ListChunksByPageRange returns a document's chunks within an inclusive
// page range.
func (s *Store) ListChunksByPageRange(ctx context.Context, documentID int64, pr PageRange) ([]DocumentChunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+chunkColumns+` FROM document_chunks
		WHERE document_id = $1 AND page_number BETWEEN $2 AND $3
		ORDER BY page_number, chunk_index`, documentID, pr.Start, pr.End)
	if err != nil {
		return nil, fmt.Errorf("list chunks by page range: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// GetChunkByStableID retrieves one chunk by its stable id.
func (s *Store) GetChunkByStableID(ctx context.Context, stableChunkID string) (*DocumentChunk, error) {
	c, err := scanChunk(s.db.QueryRow(ctx, `
		SELECT `+chunkColumns+` FROM document_chunks WHERE stable_chunk_id = $1`, stableChunkID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return &c, nil
}

func collectChunks(rows pgx.Rows) ([]DocumentChunk, error) {
	var chunks []DocumentChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SetRawText stores the full extracted text of a document.
func (s *Store) SetRawText(ctx context.Context, documentID int64, rawText string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO document_raw_text (document_id, raw_text)
		VALUES ($1, $2)
		ON CONFLICT (document_id) DO UPDATE SET raw_text = EXCLUDED.raw_text`,
		documentID, rawText)
	return mapError("set raw text", err)
}

// GetRawText returns the full extracted text of a document.
func (s *Store) GetRawText(ctx context.Context, documentID int64) (string, error) {
	var text string
	err := s.db.QueryRow(ctx, `
		SELECT raw_text FROM document_raw_text WHERE document_id = $1`, documentID).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get raw text: %w", err)
	}
	return text, nil
}

// InsertOCRWords bulk-inserts word coordinates via parallel arrays. Word
// volume runs to thousands per page, so this avoids per-row round trips.
func (s *Store) InsertOCRWords(ctx context.Context, documentID int64, words []OCRWord) error {
	if len(words) == 0 {
		return nil
	}
	pages := make([]int32, len(words))
	indexes := make([]int32, len(words))
	texts := make([]string, len(words))
	x0s := make([]float64, len(words))
	y0s := make([]float64, len(words))
	x1s := make([]float64, len(words))
	y1s := make([]float64, len(words))
	confs := make([]float64, len(words))
	for i, w := range words {
		pages[i] = int32(w.PageNumber)
		indexes[i] = int32(w.WordIndex)
		texts[i] = w.Text
		x0s[i] = w.X0
		y0s[i] = w.Y0
		x1s[i] = w.X1
		y1s[i] = w.Y1
		confs[i] = w.Confidence
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO ocr_words (document_id, page_number, word_index, text, x0, y0, x1, y1, confidence)
		SELECT $1, * FROM unnest($2::int[], $3::int[], $4::text[],
			$5::float8[], $6::float8[], $7::float8[], $8::float8[], $9::float8[])`,
		documentID, pages, indexes, texts, x0s, y0s, x1s, y1s, confs)
	return mapError("insert ocr words", err)
}

// ListOCRWords returns word coordinates for a page range in reading order.
func (s *Store) ListOCRWords(ctx context.Context, documentID int64, pr PageRange) ([]OCRWord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, page_number, word_index, text, x0, y0, x1, y1, confidence
		FROM ocr_words
		WHERE document_id = $1 AND page_number BETWEEN $2 AND $3
		ORDER BY page_number, word_index`, documentID, pr.Start, pr.End)
	if err != nil {
		return nil, fmt.Errorf("list ocr words: %w", err)
	}
	defer rows.Close()

	var words []OCRWord
	for rows.Next() {
		var w OCRWord
		if err := rows.Scan(&w.ID, &w.DocumentID, &w.PageNumber, &w.WordIndex, &w.Text,
			&w.X0, &w.Y0, &w.X1, &w.Y1, &w.Confidence); err != nil {
			return nil, fmt.Errorf("scan ocr word: %w", err)
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

// CreateClassification records a classifier verdict.
func (s *Store) CreateClassification(ctx context.Context, c *DocumentClassification) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO document_classifications (document_id, document_type, confidence, sections, model_version)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		c.DocumentID, c.DocumentType, c.Confidence, c.Sections, c.ModelVersion,
	).Scan(&c.ID, &c.CreatedAt)
	return mapError("create classification", err)
}

// GetClassification returns the most recent classification for a document.
func (s *Store) GetClassification(ctx context.Context, documentID int64) (*DocumentClassification, error) {
	var c DocumentClassification
	err := s.db.QueryRow(ctx, `
		SELECT id, document_id, document_type, confidence, sections, model_version, created_at
		FROM document_classifications
		WHERE document_id = $1 ORDER BY created_at DESC LIMIT 1`, documentID,
	).Scan(&c.ID, &c.DocumentID, &c.DocumentType, &c.Confidence, &c.Sections, &c.ModelVersion, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get classification: %w", err)
	}
	return &c, nil
}
