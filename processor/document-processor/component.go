// Package documentprocessor implements the first pipeline stage. It verifies
// that a document's imported artifacts (pages, chunks, OCR words, tables,
// raw text) are complete and internally consistent before any model-driven
// stage touches them, and normalizes the document status.
package documentprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

// Store is the repository surface this stage needs.
type Store interface {
	GetDocument(ctx context.Context, id int64) (*storage.Document, error)
	ListPages(ctx context.Context, documentID int64) ([]storage.DocumentPage, error)
	ListChunks(ctx context.Context, documentID int64) ([]storage.DocumentChunk, error)
	ListOCRWords(ctx context.Context, documentID int64, pr storage.PageRange) ([]storage.OCRWord, error)
	ListTables(ctx context.Context, documentID int64) ([]storage.DocumentTable, error)
	GetRawText(ctx context.Context, documentID int64) (string, error)
	SetRawText(ctx context.Context, documentID int64, rawText string) error
	UpdateDocumentStatus(ctx context.Context, id int64, status storage.DocumentStatus) error
}

// Component implements the processed stage.
type Component struct {
	name   string
	config Config
	store  Store
	logger *slog.Logger
}

// NewComponent creates the document processor from its JSON config fragment.
func NewComponent(rawConfig json.RawMessage, deps workflow.Deps) (*Component, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	return &Component{
		name:   "document-processor",
		config: config,
		store:  deps.Store,
		logger: deps.GetLogger(),
	}, nil
}

// Name returns the stage this component serves.
func (c *Component) Name() workflow.StageName { return workflow.StageProcessed }

// Run verifies the document's imported artifacts and marks it OCR-processed.
func (c *Component) Run(ctx context.Context, req workflow.StageRequest) error {
	doc, err := c.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	pages, err := c.store.ListPages(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}
	if err := verifyPages(doc, pages); err != nil {
		return err
	}

	chunks, err := c.store.ListChunks(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	unknownSections, err := verifyChunks(doc, chunks)
	if err != nil {
		return err
	}
	if ratio := float64(unknownSections) / float64(len(chunks)); ratio > c.config.MaxUnknownSectionRatio {
		return fmt.Errorf("%d of %d chunks carry an unknown section type", unknownSections, len(chunks))
	}

	words, err := c.store.ListOCRWords(ctx, req.DocumentID, storage.PageRange{Start: 1, End: doc.PageCount})
	if err != nil {
		return fmt.Errorf("load ocr words: %w", err)
	}
	if c.config.RequireOCR && len(words) == 0 {
		return fmt.Errorf("document has no OCR words")
	}

	tables, err := c.store.ListTables(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}
	if err := verifyTables(req.DocumentID, tables); err != nil {
		return err
	}

	if err := c.ensureRawText(ctx, req.DocumentID, chunks); err != nil {
		return err
	}

	if doc.Status == storage.DocumentStatusUploaded || doc.Status == storage.DocumentStatusOCRProcessing {
		if err := c.store.UpdateDocumentStatus(ctx, req.DocumentID, storage.DocumentStatusOCRProcessed); err != nil {
			return fmt.Errorf("update document status: %w", err)
		}
	}

	c.logger.Info("document artifacts verified",
		"document_id", req.DocumentID,
		"pages", len(pages),
		"chunks", len(chunks),
		"ocr_words", len(words),
		"tables", len(tables),
		"unknown_sections", unknownSections)
	return nil
}

// ensureRawText synthesizes the raw text from chunks when the importer did
// not provide one.
func (c *Component) ensureRawText(ctx context.Context, documentID int64, chunks []storage.DocumentChunk) error {
	text, err := c.store.GetRawText(ctx, documentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load raw text: %w", err)
	}
	if strings.TrimSpace(text) != "" {
		return nil
	}
	if !c.config.RebuildRawText {
		return fmt.Errorf("document has no raw text")
	}

	if err := c.store.SetRawText(ctx, documentID, joinChunkText(chunks)); err != nil {
		return fmt.Errorf("rebuild raw text: %w", err)
	}
	c.logger.Info("raw text rebuilt from chunks", "document_id", documentID, "chunks", len(chunks))
	return nil
}

// verifyPages checks that pages are dense 1..page_count with sane geometry.
func verifyPages(doc *storage.Document, pages []storage.DocumentPage) error {
	if len(pages) == 0 {
		return fmt.Errorf("document has no pages")
	}
	if doc.PageCount > 0 && len(pages) != doc.PageCount {
		return fmt.Errorf("page count mismatch: document declares %d, found %d", doc.PageCount, len(pages))
	}

	sorted := append([]storage.DocumentPage(nil), pages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PageNumber < sorted[j].PageNumber })
	for i, p := range sorted {
		if p.PageNumber != i+1 {
			return fmt.Errorf("pages not dense: expected page %d, found %d", i+1, p.PageNumber)
		}
		if p.WidthPoints <= 0 || p.HeightPoints <= 0 {
			return fmt.Errorf("page %d has invalid dimensions %gx%g", p.PageNumber, p.WidthPoints, p.HeightPoints)
		}
	}
	return nil
}

// verifyChunks checks stable-id reproducibility, page bounds, and stable-id
// uniqueness. Returns the count of chunks whose section type is outside the
// vocabulary.
func verifyChunks(doc *storage.Document, chunks []storage.DocumentChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document has no chunks")
	}

	seen := make(map[string]struct{}, len(chunks))
	unknown := 0
	for _, ch := range chunks {
		if doc.PageCount > 0 && (ch.PageNumber < 1 || ch.PageNumber > doc.PageCount) {
			return 0, fmt.Errorf("chunk %s references page %d outside 1..%d", ch.StableChunkID, ch.PageNumber, doc.PageCount)
		}
		want := identity.StableChunkID(doc.ID, ch.PageNumber, ch.ChunkIndex)
		if ch.StableChunkID != want {
			return 0, fmt.Errorf("chunk stable id %q does not reproduce (want %q)", ch.StableChunkID, want)
		}
		if _, dup := seen[ch.StableChunkID]; dup {
			return 0, fmt.Errorf("duplicate stable chunk id %q", ch.StableChunkID)
		}
		seen[ch.StableChunkID] = struct{}{}

		if ch.SectionType != "" && !sections.IsValid(ch.SectionType) {
			unknown++
		}
	}
	return unknown, nil
}

// verifyTables checks stable-table-id reproducibility.
func verifyTables(documentID int64, tables []storage.DocumentTable) error {
	for _, t := range tables {
		want := identity.StableTableID(documentID, t.PageNumber, t.TableIndex)
		if t.StableTableID != want {
			return fmt.Errorf("table stable id %q does not reproduce (want %q)", t.StableTableID, want)
		}
	}
	return nil
}

// joinChunkText rebuilds the full document text in page and chunk order.
func joinChunkText(chunks []storage.DocumentChunk) string {
	sorted := append([]storage.DocumentChunk(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PageNumber != sorted[j].PageNumber {
			return sorted[i].PageNumber < sorted[j].PageNumber
		}
		return sorted[i].ChunkIndex < sorted[j].ChunkIndex
	})

	parts := make([]string, 0, len(sorted))
	for _, ch := range sorted {
		if t := strings.TrimSpace(ch.RawText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
