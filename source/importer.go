package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/metrics"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
)

// ImportStore is the persistence surface the importer writes through.
// *storage.Store satisfies it.
type ImportStore interface {
	CreateDocument(ctx context.Context, d *storage.Document) error
	UpdateDocumentStatus(ctx context.Context, id int64, status storage.DocumentStatus) error
	UpsertPages(ctx context.Context, pages []storage.DocumentPage) error
	UpsertChunks(ctx context.Context, chunks []storage.DocumentChunk) error
	SetRawText(ctx context.Context, documentID int64, rawText string) error
	InsertOCRWords(ctx context.Context, documentID int64, words []storage.OCRWord) error
	UpsertTable(ctx context.Context, t *storage.DocumentTable) error
	ReplaceSOVItems(ctx context.Context, tableID int64, items []storage.SOVItem) error
	ReplaceLossRunClaims(ctx context.Context, tableID int64, claims []storage.LossRunClaim) error
}

// Importer persists artifact bundles as documents ready for the pipeline.
type Importer struct {
	store   ImportStore
	logger  *slog.Logger
	metrics *metrics.Collector
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithImportMetrics attaches the Prometheus collector. Bundle outcomes are
// counted as imported, rejected, or failed.
func WithImportMetrics(m *metrics.Collector) ImporterOption {
	return func(im *Importer) {
		im.metrics = m
	}
}

// NewImporter builds an importer over the given store.
func NewImporter(store ImportStore, logger *slog.Logger, opts ...ImporterOption) (*Importer, error) {
	if store == nil {
		return nil, fmt.Errorf("importer requires a store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	im := &Importer{store: store, logger: logger}
	for _, opt := range opts {
		opt(im)
	}
	return im, nil
}

// ImportPath loads, validates, and persists the bundle at path.
func (im *Importer) ImportPath(ctx context.Context, path string) (*storage.Document, error) {
	b, err := LoadBundle(path)
	if err != nil {
		if errors.Is(err, storage.ErrValidation) {
			im.metrics.CountBundle("rejected")
		} else {
			im.metrics.CountBundle("failed")
		}
		return nil, err
	}
	return im.Import(ctx, b, path)
}

// Import persists one bundle and returns the created document. Every drop
// is a new document row: re-dropping a file registers a fresh version, and
// it is the watcher's content hashing that keeps identical re-writes from
// arriving here twice.
func (im *Importer) Import(ctx context.Context, b *Bundle, path string) (*storage.Document, error) {
	doc, err := im.importBundle(ctx, b, path)
	switch {
	case err == nil:
		im.metrics.CountBundle("imported")
	case errors.Is(err, storage.ErrValidation):
		im.metrics.CountBundle("rejected")
	default:
		im.metrics.CountBundle("failed")
	}
	return doc, err
}

func (im *Importer) importBundle(ctx context.Context, b *Bundle, path string) (*storage.Document, error) {
	b.Normalize()
	if err := b.Validate(); err != nil {
		return nil, err
	}

	doc := &storage.Document{
		Filename:  b.Document.Filename,
		FilePath:  path,
		MimeType:  b.Document.MimeType,
		PageCount: b.Document.PageCount,
		Status:    storage.DocumentStatusUploaded,
		Metadata:  b.Document.Metadata,
	}
	if err := im.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	pages := make([]storage.DocumentPage, len(b.Pages))
	for i, p := range b.Pages {
		pages[i] = storage.DocumentPage{
			DocumentID:   doc.ID,
			PageNumber:   p.PageNumber,
			WidthPoints:  p.WidthPoints,
			HeightPoints: p.HeightPoints,
			Rotation:     p.Rotation,
		}
	}
	if err := im.store.UpsertPages(ctx, pages); err != nil {
		return nil, fmt.Errorf("import pages: %w", err)
	}

	chunks := make([]storage.DocumentChunk, len(b.Chunks))
	for i, ch := range b.Chunks {
		section := ch.SectionType
		if section == "" || !sections.IsValid(section) {
			section = sections.Other
		}
		chunks[i] = storage.DocumentChunk{
			DocumentID:           doc.ID,
			StableChunkID:        identity.StableChunkID(doc.ID, ch.PageNumber, ch.ChunkIndex),
			PageNumber:           ch.PageNumber,
			ChunkIndex:           ch.ChunkIndex,
			SectionType:          section,
			EffectiveSectionType: section,
			SubsectionType:       ch.SubsectionType,
			RawText:              ch.RawText,
			TokenCount:           ch.TokenCount,
		}
	}
	if err := im.store.UpsertChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("import chunks: %w", err)
	}

	rawText := b.RawText
	if rawText == "" {
		parts := make([]string, len(chunks))
		for i, ch := range chunks {
			parts[i] = ch.RawText
		}
		rawText = strings.Join(parts, "\n\n")
	}
	if err := im.store.SetRawText(ctx, doc.ID, rawText); err != nil {
		return nil, fmt.Errorf("import raw text: %w", err)
	}

	if len(b.OCRWords) > 0 {
		words := make([]storage.OCRWord, len(b.OCRWords))
		for i, w := range b.OCRWords {
			words[i] = storage.OCRWord{
				DocumentID: doc.ID,
				PageNumber: w.PageNumber,
				WordIndex:  w.WordIndex,
				Text:       w.Text,
				X0:         w.X0,
				Y0:         w.Y0,
				X1:         w.X1,
				Y1:         w.Y1,
				Confidence: w.Confidence,
			}
		}
		if err := im.store.InsertOCRWords(ctx, doc.ID, words); err != nil {
			return nil, fmt.Errorf("import OCR words: %w", err)
		}
	}

	for _, bt := range b.Tables {
		if err := im.importTable(ctx, doc.ID, bt); err != nil {
			return nil, err
		}
	}

	// The bundle is the OCR product's output, so the imported document
	// starts where OCR left off.
	if err := im.store.UpdateDocumentStatus(ctx, doc.ID, storage.DocumentStatusOCRProcessed); err != nil {
		return nil, fmt.Errorf("mark document imported: %w", err)
	}
	doc.Status = storage.DocumentStatusOCRProcessed

	im.logger.Info("bundle imported",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"pages", len(pages),
		"chunks", len(chunks),
		"ocr_words", len(b.OCRWords),
		"tables", len(b.Tables))
	return doc, nil
}

// importTable persists one table and materializes its typed rows. Unknown
// table types are stored as-is; only SOV and loss-run tables have row-level
// representations downstream.
func (im *Importer) importTable(ctx context.Context, documentID int64, bt BundleTable) error {
	table := &storage.DocumentTable{
		DocumentID:    documentID,
		StableTableID: identity.StableTableID(documentID, bt.PageNumber, bt.TableIndex),
		PageNumber:    bt.PageNumber,
		TableIndex:    bt.TableIndex,
		TableType:     bt.TableType,
		TableJSON:     bt.TableJSON,
		Confidence:    bt.Confidence,
		RawMarkdown:   bt.RawMarkdown,
	}
	if err := im.store.UpsertTable(ctx, table); err != nil {
		return fmt.Errorf("import table p%d/t%d: %w", bt.PageNumber, bt.TableIndex, err)
	}

	switch bt.TableType {
	case sections.TablePropertySOV:
		items := make([]storage.SOVItem, len(bt.SOVItems))
		for i, it := range bt.SOVItems {
			it.ID = 0
			it.DocumentID = documentID
			it.TableID = table.ID
			items[i] = it
		}
		if err := im.store.ReplaceSOVItems(ctx, table.ID, items); err != nil {
			return fmt.Errorf("import SOV rows: %w", err)
		}
	case sections.TableLossRun:
		claims := make([]storage.LossRunClaim, len(bt.LossRunClaims))
		for i, cl := range bt.LossRunClaims {
			cl.ID = 0
			cl.DocumentID = documentID
			cl.TableID = table.ID
			claims[i] = cl
		}
		if err := im.store.ReplaceLossRunClaims(ctx, table.ID, claims); err != nil {
			return fmt.Errorf("import loss-run rows: %w", err)
		}
	}
	return nil
}
