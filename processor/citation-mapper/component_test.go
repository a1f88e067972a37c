package citationmapper

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

type fakeStore struct {
	extractions []storage.SectionExtraction
	words       []storage.OCRWord
	pages       []storage.DocumentPage
	chunks      map[string]*storage.DocumentChunk
	matches     []storage.EmbeddingMatch

	searchCalls int
	citations   []*storage.Citation
}

func (f *fakeStore) ListSectionExtractions(_ context.Context, _, _ int64) ([]storage.SectionExtraction, error) {
	return f.extractions, nil
}

func (f *fakeStore) ListOCRWords(_ context.Context, _ int64, _ storage.PageRange) ([]storage.OCRWord, error) {
	return f.words, nil
}

func (f *fakeStore) ListPages(_ context.Context, _ int64) ([]storage.DocumentPage, error) {
	return f.pages, nil
}

func (f *fakeStore) GetChunkByStableID(_ context.Context, stableChunkID string) (*storage.DocumentChunk, error) {
	if ch, ok := f.chunks[stableChunkID]; ok {
		return ch, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) SemanticSearch(_ context.Context, _ []float32, _ int, _ storage.SearchFilters, _ float64) ([]storage.EmbeddingMatch, error) {
	f.searchCalls++
	return f.matches, nil
}

func (f *fakeStore) UpsertCitation(_ context.Context, c *storage.Citation) error {
	f.citations = append(f.citations, c)
	return nil
}

type fakeEncoder struct {
	err   error
	calls int
}

func (f *fakeEncoder) EncodeOne(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}

func page(number int, rotation int) storage.DocumentPage {
	return storage.DocumentPage{
		DocumentID: 7, PageNumber: number,
		WidthPoints: 612, HeightPoints: 792, Rotation: rotation,
	}
}

func coveragesExtraction(sourceText string) storage.SectionExtraction {
	return storage.SectionExtraction{
		ID: 2, DocumentID: 7, WorkflowID: 3, SectionType: sections.Coverages,
		ExtractedFields: map[string]any{
			"coverages": []any{
				map[string]any{
					"coverage_name":    "Building Coverage",
					"source_text":      sourceText,
					"clause_reference": "A.1",
				},
			},
		},
		PageRange: storage.PageRange{Start: 3, End: 5},
	}
}

func chunkOn(pageNumber int, stableID string) *storage.DocumentChunk {
	return &storage.DocumentChunk{
		ID: 11, DocumentID: 7, StableChunkID: stableID, PageNumber: pageNumber,
		SectionType: sections.Coverages, RawText: "chunk text",
	}
}

func newTestComponent(store Store, enc Encoder, cfg Config) *Component {
	return &Component{name: "citation-mapper", config: cfg, store: store, encoder: enc, logger: slog.Default()}
}

func TestRunMapsTier1Citation(t *testing.T) {
	store := &fakeStore{
		extractions: []storage.SectionExtraction{coveragesExtraction("Building Coverage applies to the premises")},
		words:       lineWords(3, 200, 0.98, "Building", "Coverage", "applies", "to", "the", "premises"),
		pages:       []storage.DocumentPage{page(3, 0)},
	}
	enc := &fakeEncoder{}
	c := newTestComponent(store, enc, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(store.citations))
	}
	if enc.calls != 0 {
		t.Errorf("tier 1 must not touch the encoder, %d calls", enc.calls)
	}

	cit := store.citations[0]
	if cit.SourceType != SourceTypeSectionEntity || cit.SourceID != "coverages_0" {
		t.Errorf("citation keyed %s/%s", cit.SourceType, cit.SourceID)
	}
	if cit.ExtractionMethod != MethodTier1 {
		t.Errorf("method = %s", cit.ExtractionMethod)
	}
	if cit.VerbatimText != "Building Coverage applies to the premises" {
		t.Errorf("verbatim = %q", cit.VerbatimText)
	}
	if cit.PrimaryPage != 3 || cit.PageRange.Start != 3 || cit.PageRange.End != 3 {
		t.Errorf("pages = %d %+v", cit.PrimaryPage, cit.PageRange)
	}
	if len(cit.Spans) != 1 || len(cit.Spans[0].BBoxes) != 1 {
		t.Fatalf("spans = %+v, want one single-line box", cit.Spans)
	}
	box := cit.Spans[0].BBoxes[0]
	if box.X0 != 72 || box.Y0 != 200 || box.Y1 != 210 || box.X1 <= box.X0 {
		t.Errorf("line box = %+v", box)
	}
	if cit.ExtractionConfidence != 0.98 {
		t.Errorf("confidence = %v", cit.ExtractionConfidence)
	}
	if cit.ClauseReference == nil || *cit.ClauseReference != "A.1" {
		t.Errorf("clause reference = %v", cit.ClauseReference)
	}
}

func TestRunFallsBackToTier2(t *testing.T) {
	store := &fakeStore{
		extractions: []storage.SectionExtraction{coveragesExtraction("a paraphrased summary that matches no OCR text")},
		pages:       []storage.DocumentPage{page(3, 0)},
		chunks:      map[string]*storage.DocumentChunk{"doc_7_p3_c0": chunkOn(3, "doc_7_p3_c0")},
		matches: []storage.EmbeddingMatch{
			{Embedding: storage.VectorEmbedding{EntityID: "doc_7_p3_c0"}, Distance: 0.2},
		},
	}
	c := newTestComponent(store, &fakeEncoder{}, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(store.citations))
	}

	cit := store.citations[0]
	if cit.ExtractionMethod != MethodTier2 {
		t.Errorf("method = %s", cit.ExtractionMethod)
	}
	if cit.PrimaryPage != 3 {
		t.Errorf("primary page = %d", cit.PrimaryPage)
	}
	if got := cit.ExtractionConfidence; got < 0.79 || got > 0.81 {
		t.Errorf("confidence = %v, want 1-distance", got)
	}
	if len(cit.Spans) != 1 || len(cit.Spans[0].BBoxes) != 1 {
		t.Fatalf("spans = %+v", cit.Spans)
	}
	box := cit.Spans[0].BBoxes[0]
	if box.X1 != 612 || box.Y1 != 792 {
		t.Errorf("tier 2 cites the whole page, got %+v", box)
	}
	if cit.VerbatimText != "a paraphrased summary that matches no OCR text" {
		t.Errorf("verbatim = %q", cit.VerbatimText)
	}
}

func TestRunTier2RespectsPageRange(t *testing.T) {
	store := &fakeStore{
		extractions: []storage.SectionExtraction{coveragesExtraction("a paraphrased summary that matches no OCR text")},
		pages:       []storage.DocumentPage{page(4, 0), page(9, 0)},
		chunks: map[string]*storage.DocumentChunk{
			"doc_7_p9_c0": {ID: 20, DocumentID: 7, StableChunkID: "doc_7_p9_c0", PageNumber: 9},
			"doc_7_p4_c0": {ID: 21, DocumentID: 7, StableChunkID: "doc_7_p4_c0", PageNumber: 4},
		},
		matches: []storage.EmbeddingMatch{
			{Embedding: storage.VectorEmbedding{EntityID: "doc_7_p9_c0"}, Distance: 0.1},
			{Embedding: storage.VectorEmbedding{EntityID: "doc_7_p4_c0"}, Distance: 0.3},
		},
	}
	c := newTestComponent(store, &fakeEncoder{}, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(store.citations))
	}
	// Page 9 is outside the extraction's page range 3-5.
	if store.citations[0].PrimaryPage != 4 {
		t.Errorf("primary page = %d, want 4", store.citations[0].PrimaryPage)
	}
}

func TestRunLeavesUnmappableSourcesUncited(t *testing.T) {
	store := &fakeStore{
		extractions: []storage.SectionExtraction{coveragesExtraction("a paraphrased summary that matches no OCR text")},
		pages:       []storage.DocumentPage{page(3, 0)},
	}
	c := newTestComponent(store, &fakeEncoder{}, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.citations) != 0 {
		t.Errorf("citations = %d, want 0", len(store.citations))
	}
	if store.searchCalls != 1 {
		t.Errorf("search calls = %d, want 1", store.searchCalls)
	}
}

func TestRunSkipsShortSources(t *testing.T) {
	store := &fakeStore{
		extractions: []storage.SectionExtraction{coveragesExtraction("Building")},
		pages:       []storage.DocumentPage{page(3, 0)},
	}
	enc := &fakeEncoder{}
	c := newTestComponent(store, enc, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.citations) != 0 || enc.calls != 0 || store.searchCalls != 0 {
		t.Errorf("short source must be skipped entirely")
	}
}

func TestRunPropagatesEncoderErrors(t *testing.T) {
	store := &fakeStore{
		extractions: []storage.SectionExtraction{coveragesExtraction("a paraphrased summary that matches no OCR text")},
		pages:       []storage.DocumentPage{page(3, 0)},
	}
	enc := &fakeEncoder{err: errors.New("sidecar down")}
	c := newTestComponent(store, enc, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7})
	if err == nil {
		t.Fatal("expected error")
	}
	if !llm.IsTransient(err) {
		t.Errorf("encode failure should be retryable: %v", err)
	}
}

func TestCollectSourcesReadsDefinitionText(t *testing.T) {
	sources := collectSources([]storage.SectionExtraction{{
		SectionType: sections.Definitions,
		ExtractedFields: map[string]any{
			"definitions": []any{
				map[string]any{"term": "Pollutant", "definition_text": "Any solid, liquid, gaseous or thermal irritant"},
				map[string]any{"term": "Bare"},
			},
		},
		PageRange: storage.PageRange{Start: 12, End: 14},
	}})
	if len(sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(sources))
	}
	if sources[0].sourceID != "definitions_0" {
		t.Errorf("source id = %s", sources[0].sourceID)
	}
	if sources[0].pageRange.Start != 12 {
		t.Errorf("page range = %+v", sources[0].pageRange)
	}
}

func TestCollectSourcesSingleRecordSection(t *testing.T) {
	sources := collectSources([]storage.SectionExtraction{{
		SectionType: sections.Declarations,
		ExtractedFields: map[string]any{
			"policy_number": "CPP-2024-001",
			"source_text":   "Policy Number CPP-2024-001 issued to Acme",
		},
	}})
	if len(sources) != 1 || sources[0].sourceID != "declarations_main" {
		t.Fatalf("sources = %+v", sources)
	}
}

func TestClampBoxHonorsRotation(t *testing.T) {
	rotated := page(1, 90)
	got := clampBox(storage.BBox{X0: -5, Y0: 700, X1: 800, Y1: 900}, rotated)
	// Rotation swaps the axes: effective size is 792 x 612.
	if got.X0 != 0 || got.X1 != 792 || got.Y0 != 612 || got.Y1 != 612 {
		t.Errorf("clamped = %+v", got)
	}
}

func TestNewComponentValidation(t *testing.T) {
	deps := workflow.Deps{}
	if _, err := NewComponent(nil, deps); err == nil {
		t.Error("expected error for missing store")
	}
	if _, err := NewComponent(json.RawMessage(`{"citation_min_words": 0}`), deps); err == nil {
		t.Error("expected error for zero min words")
	}
}
