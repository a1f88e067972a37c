package documentprocessor

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/workflow"
)

type fakeStore struct {
	doc     *storage.Document
	pages   []storage.DocumentPage
	chunks  []storage.DocumentChunk
	words   []storage.OCRWord
	tables  []storage.DocumentTable
	rawText string

	savedRawText string
	savedStatus  storage.DocumentStatus
}

func (f *fakeStore) GetDocument(_ context.Context, _ int64) (*storage.Document, error) {
	return f.doc, nil
}

func (f *fakeStore) ListPages(_ context.Context, _ int64) ([]storage.DocumentPage, error) {
	return f.pages, nil
}

func (f *fakeStore) ListChunks(_ context.Context, _ int64) ([]storage.DocumentChunk, error) {
	return f.chunks, nil
}

func (f *fakeStore) ListOCRWords(_ context.Context, _ int64, _ storage.PageRange) ([]storage.OCRWord, error) {
	return f.words, nil
}

func (f *fakeStore) ListTables(_ context.Context, _ int64) ([]storage.DocumentTable, error) {
	return f.tables, nil
}

func (f *fakeStore) GetRawText(_ context.Context, _ int64) (string, error) {
	if f.rawText == "" {
		return "", storage.ErrNotFound
	}
	return f.rawText, nil
}

func (f *fakeStore) SetRawText(_ context.Context, _ int64, rawText string) error {
	f.savedRawText = rawText
	return nil
}

func (f *fakeStore) UpdateDocumentStatus(_ context.Context, _ int64, status storage.DocumentStatus) error {
	f.savedStatus = status
	return nil
}

func validStore(t *testing.T) *fakeStore {
	t.Helper()
	const docID = int64(42)
	return &fakeStore{
		doc: &storage.Document{ID: docID, Filename: "policy.pdf", PageCount: 2, Status: storage.DocumentStatusUploaded},
		pages: []storage.DocumentPage{
			{DocumentID: docID, PageNumber: 1, WidthPoints: 612, HeightPoints: 792},
			{DocumentID: docID, PageNumber: 2, WidthPoints: 612, HeightPoints: 792},
		},
		chunks: []storage.DocumentChunk{
			{DocumentID: docID, StableChunkID: identity.StableChunkID(docID, 1, 0), PageNumber: 1, ChunkIndex: 0, SectionType: "declarations", RawText: "Policy No. CPP-100"},
			{DocumentID: docID, StableChunkID: identity.StableChunkID(docID, 1, 1), PageNumber: 1, ChunkIndex: 1, SectionType: "coverages", RawText: "Building coverage applies"},
			{DocumentID: docID, StableChunkID: identity.StableChunkID(docID, 2, 0), PageNumber: 2, ChunkIndex: 0, SectionType: "exclusions", RawText: "Flood is excluded"},
		},
		words:   []storage.OCRWord{{DocumentID: docID, PageNumber: 1, WordIndex: 0, Text: "Policy"}},
		rawText: "Policy No. CPP-100",
	}
}

func newTestComponent(t *testing.T, store Store, cfg Config) *Component {
	t.Helper()
	return &Component{
		name:   "document-processor",
		config: cfg,
		store:  store,
		logger: slog.Default(),
	}
}

func TestRunVerifiesAndMarksProcessed(t *testing.T) {
	store := validStore(t)
	c := newTestComponent(t, store, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.savedStatus != storage.DocumentStatusOCRProcessed {
		t.Fatalf("status = %q, want ocr_processed", store.savedStatus)
	}
}

func TestRunLeavesAdvancedStatusAlone(t *testing.T) {
	store := validStore(t)
	store.doc.Status = storage.DocumentStatusClassified
	c := newTestComponent(t, store, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.savedStatus != "" {
		t.Fatalf("status rewritten to %q on rerun", store.savedStatus)
	}
}

func TestRunFailsOnMissingPage(t *testing.T) {
	store := validStore(t)
	store.pages = store.pages[:1]
	c := newTestComponent(t, store, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42})
	if err == nil || !strings.Contains(err.Error(), "page count mismatch") {
		t.Fatalf("err = %v, want page count mismatch", err)
	}
}

func TestRunFailsOnNonDensePages(t *testing.T) {
	store := validStore(t)
	store.doc.PageCount = 0
	store.pages[1].PageNumber = 3
	c := newTestComponent(t, store, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42})
	if err == nil || !strings.Contains(err.Error(), "not dense") {
		t.Fatalf("err = %v, want pages not dense", err)
	}
}

func TestRunFailsOnStableIDMismatch(t *testing.T) {
	store := validStore(t)
	store.chunks[1].StableChunkID = "doc_42_p9_c9"
	c := newTestComponent(t, store, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42})
	if err == nil || !strings.Contains(err.Error(), "does not reproduce") {
		t.Fatalf("err = %v, want stable id mismatch", err)
	}
}

func TestRunFailsWithoutChunks(t *testing.T) {
	store := validStore(t)
	store.chunks = nil
	c := newTestComponent(t, store, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42})
	if err == nil || !strings.Contains(err.Error(), "no chunks") {
		t.Fatalf("err = %v, want no chunks", err)
	}
}

func TestRunRequireOCR(t *testing.T) {
	store := validStore(t)
	store.words = nil
	cfg := DefaultConfig()
	cfg.RequireOCR = true
	c := newTestComponent(t, store, cfg)

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42})
	if err == nil || !strings.Contains(err.Error(), "no OCR words") {
		t.Fatalf("err = %v, want OCR requirement", err)
	}
}

func TestRunRebuildsRawTextFromChunks(t *testing.T) {
	store := validStore(t)
	store.rawText = ""
	c := newTestComponent(t, store, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "Policy No. CPP-100\n\nBuilding coverage applies\n\nFlood is excluded"
	if store.savedRawText != want {
		t.Fatalf("rebuilt raw text = %q, want %q", store.savedRawText, want)
	}
}

func TestRunFailsOnUnknownSectionRatio(t *testing.T) {
	store := validStore(t)
	store.chunks[0].SectionType = "mystery"
	store.chunks[1].SectionType = "mystery"
	c := newTestComponent(t, store, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42})
	if err == nil || !strings.Contains(err.Error(), "unknown section type") {
		t.Fatalf("err = %v, want unknown section ratio failure", err)
	}
}

func TestRunFailsOnTableIDMismatch(t *testing.T) {
	store := validStore(t)
	store.tables = []storage.DocumentTable{{DocumentID: 42, StableTableID: "tbl_bogus", PageNumber: 2, TableIndex: 0}}
	c := newTestComponent(t, store, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42})
	if err == nil || !strings.Contains(err.Error(), "does not reproduce") {
		t.Fatalf("err = %v, want table stable id mismatch", err)
	}
}

func TestNewComponentDefaults(t *testing.T) {
	_, err := NewComponent(nil, workflow.Deps{})
	if err == nil || !strings.Contains(err.Error(), "store is required") {
		t.Fatalf("err = %v, want store requirement", err)
	}

	c, err := NewComponent([]byte(`{"require_ocr": true}`), workflow.Deps{Store: &storage.Store{}})
	if err != nil {
		t.Fatalf("NewComponent: %v", err)
	}
	if !c.config.RequireOCR {
		t.Fatal("config override not applied")
	}
	if !c.config.RebuildRawText {
		t.Fatal("default rebuild_raw_text lost on partial config")
	}
	if c.Name() != workflow.StageProcessed {
		t.Fatalf("Name() = %s, want processed", c.Name())
	}
}
