package semanticindexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/sectiontext"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

type fakeStore struct {
	extractions []storage.SectionExtraction
	chunks      []storage.DocumentChunk

	chunkCalls  int
	deleteCalls int
	deleteFirst bool
	rows        []*storage.VectorEmbedding
	syncStates  []*storage.EmbeddingSyncState

	failEntityID string
}

func (f *fakeStore) ListChunks(_ context.Context, _ int64) ([]storage.DocumentChunk, error) {
	f.chunkCalls++
	return f.chunks, nil
}

func (f *fakeStore) ListSectionExtractions(_ context.Context, _, _ int64) ([]storage.SectionExtraction, error) {
	return f.extractions, nil
}

func (f *fakeStore) DeleteEmbeddings(_ context.Context, _ int64, _ *int64) (int64, error) {
	f.deleteCalls++
	if len(f.rows) == 0 {
		f.deleteFirst = true
	}
	return 2, nil
}

func (f *fakeStore) UpsertVectorEmbedding(_ context.Context, e *storage.VectorEmbedding) error {
	if f.failEntityID != "" && e.EntityID == f.failEntityID {
		return fmt.Errorf("disk full")
	}
	f.rows = append(f.rows, e)
	return nil
}

func (f *fakeStore) UpsertEmbeddingSyncState(_ context.Context, st *storage.EmbeddingSyncState) error {
	f.syncStates = append(f.syncStates, st)
	return nil
}

func (f *fakeStore) row(entityID string) *storage.VectorEmbedding {
	for _, r := range f.rows {
		if r.EntityID == entityID {
			return r
		}
	}
	return nil
}

type fakeEncoder struct {
	declaredDim int
	producedDim int
	err         error
	calls       int
}

func (f *fakeEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.producedDim)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEncoder) Model() string { return "all-MiniLM-L6-v2" }

func (f *fakeEncoder) Dimensions() int { return f.declaredDim }

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{declaredDim: 4, producedDim: 4}
}

func declarationsExtraction() storage.SectionExtraction {
	return storage.SectionExtraction{
		ID: 1, DocumentID: 7, WorkflowID: 3, SectionType: sections.Declarations,
		ExtractedFields: map[string]any{
			"policy_number":  "CPP-2024-001",
			"effective_date": "2024-03-01",
			"named_insured":  "Acme Manufacturing LLC",
		},
		PageRange:  storage.PageRange{Start: 1, End: 2},
		Confidence: 0.95,
	}
}

func coveragesExtraction() storage.SectionExtraction {
	return storage.SectionExtraction{
		ID: 2, DocumentID: 7, WorkflowID: 3, SectionType: sections.Coverages,
		ExtractedFields: map[string]any{
			"coverages": []any{
				map[string]any{"coverage_name": "Building Coverage", "limit": 500000.0},
				map[string]any{"coverage_name": "Business Income", "limit": 250000.0},
			},
		},
		PageRange:  storage.PageRange{Start: 3, End: 5},
		Confidence: 0.9,
	}
}

func testChunk() storage.DocumentChunk {
	return storage.DocumentChunk{
		ID: 11, DocumentID: 7, StableChunkID: "doc_7_p3_c0", PageNumber: 3,
		ChunkIndex: 0, SectionType: sections.Coverages, EffectiveSectionType: sections.Coverages,
		RawText: "Building Coverage applies to the premises.",
	}
}

func newTestComponent(store Store, enc Encoder, cfg Config) *Component {
	return &Component{name: "semantic-indexer", config: cfg, store: store, encoder: enc, logger: slog.Default()}
}

func TestRunIndexesSectionEntitiesAndChunks(t *testing.T) {
	store := &fakeStore{
		extractions: []storage.SectionExtraction{declarationsExtraction(), coveragesExtraction()},
		chunks:      []storage.DocumentChunk{testChunk()},
	}
	enc := newFakeEncoder()
	c := newTestComponent(store, enc, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(store.rows))
	}
	for _, id := range []string{"declarations_main", "coverages_0", "coverages_1", "doc_7_p3_c0"} {
		if store.row(id) == nil {
			t.Fatalf("missing embedding row %s", id)
		}
	}

	cov := store.row("coverages_0")
	if cov.EntityType != "coverage" || cov.SectionType != sections.Coverages {
		t.Errorf("coverage row typed %s/%s", cov.EntityType, cov.SectionType)
	}
	if cov.EmbeddingModel != "all-MiniLM-L6-v2" || cov.EmbeddingDim != 4 || cov.EmbeddingVersion != "v1" {
		t.Errorf("row carries %s/%d/%s", cov.EmbeddingModel, cov.EmbeddingDim, cov.EmbeddingVersion)
	}
	if cov.WorkflowID == nil || *cov.WorkflowID != 3 {
		t.Errorf("workflow id = %v", cov.WorkflowID)
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if cov.EffectiveDate == nil || !cov.EffectiveDate.Equal(want) {
		t.Errorf("effective date = %v, want %v", cov.EffectiveDate, want)
	}

	ch := store.row("doc_7_p3_c0")
	if ch.EntityType != sections.EntityTypeChunk {
		t.Errorf("chunk row typed %s", ch.EntityType)
	}
	if ch.SourceChunkID == nil || *ch.SourceChunkID != 11 {
		t.Errorf("chunk source id = %v", ch.SourceChunkID)
	}
	wantText := sectiontext.RenderChunk(sections.Coverages, 3, "Building Coverage applies to the premises.")
	if ch.ContentHash != identity.ContentHash(wantText) {
		t.Errorf("chunk content hash does not match rendered text")
	}

	if len(store.syncStates) != 1 {
		t.Fatalf("sync states = %d, want 1", len(store.syncStates))
	}
	st := store.syncStates[0]
	if st.ChunkID != 11 || st.SyncStatus != storage.SyncStatusSynced || st.VectorDimension != 4 {
		t.Errorf("sync state = %+v", st)
	}
}

func TestRunDeletesStaleRowsBeforeWriting(t *testing.T) {
	store := &fakeStore{extractions: []storage.SectionExtraction{declarationsExtraction()}}
	c := newTestComponent(store, newFakeEncoder(), DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.deleteCalls != 1 {
		t.Fatalf("delete calls = %d, want 1", store.deleteCalls)
	}
	if !store.deleteFirst {
		t.Error("delete must run before the first upsert")
	}
}

func TestRunSkipsChunksWhenDisabled(t *testing.T) {
	store := &fakeStore{
		extractions: []storage.SectionExtraction{coveragesExtraction()},
		chunks:      []storage.DocumentChunk{testChunk()},
	}
	cfg := DefaultConfig()
	cfg.IndexChunks = false
	c := newTestComponent(store, newFakeEncoder(), cfg)

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.chunkCalls != 0 {
		t.Errorf("chunks listed %d times, want 0", store.chunkCalls)
	}
	if len(store.rows) != 2 {
		t.Errorf("rows = %d, want 2 section entities only", len(store.rows))
	}
	if len(store.syncStates) != 0 {
		t.Errorf("no chunk sync states expected, got %d", len(store.syncStates))
	}
}

func TestRunDeletesEvenWithNothingToIndex(t *testing.T) {
	store := &fakeStore{}
	enc := newFakeEncoder()
	c := newTestComponent(store, enc, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.deleteCalls != 1 {
		t.Errorf("delete calls = %d, want 1", store.deleteCalls)
	}
	if enc.calls != 0 {
		t.Errorf("encoder calls = %d, want 0", enc.calls)
	}
	if len(store.rows) != 0 {
		t.Errorf("rows = %d, want 0", len(store.rows))
	}
}

func TestRunWrapsEncoderErrorsTransient(t *testing.T) {
	store := &fakeStore{extractions: []storage.SectionExtraction{declarationsExtraction()}}
	enc := newFakeEncoder()
	enc.err = errors.New("sidecar down")
	c := newTestComponent(store, enc, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7})
	if err == nil {
		t.Fatal("expected error")
	}
	if !llm.IsTransient(err) {
		t.Errorf("encode failure should be retryable: %v", err)
	}
	if store.deleteCalls != 0 {
		t.Errorf("index must not be emptied when encoding fails")
	}
}

func TestRunFailsOnDimensionMismatch(t *testing.T) {
	store := &fakeStore{extractions: []storage.SectionExtraction{declarationsExtraction()}}
	enc := newFakeEncoder()
	enc.producedDim = 3
	c := newTestComponent(store, enc, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7})
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.IsTransient(err) {
		t.Errorf("dimension mismatch is a configuration fault, not retryable: %v", err)
	}
}

func TestRunRecordsChunkSyncFailure(t *testing.T) {
	store := &fakeStore{
		chunks:       []storage.DocumentChunk{testChunk()},
		failEntityID: "doc_7_p3_c0",
	}
	c := newTestComponent(store, newFakeEncoder(), DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(store.syncStates) != 1 {
		t.Fatalf("sync states = %d, want 1", len(store.syncStates))
	}
	st := store.syncStates[0]
	if st.SyncStatus != storage.SyncStatusFailed || st.SyncError == "" {
		t.Errorf("sync state = %+v, want failed with error", st)
	}
}

func TestSOVRowsCarryLocationIDs(t *testing.T) {
	store := &fakeStore{extractions: []storage.SectionExtraction{{
		ID: 3, DocumentID: 7, WorkflowID: 3, SectionType: sections.SOV,
		ExtractedFields: map[string]any{
			"locations": []any{
				map[string]any{"location_number": "1", "address": "100 Main St"},
				map[string]any{"address": "200 Oak Ave"},
			},
		},
	}}}
	c := newTestComponent(store, newFakeEncoder(), DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 3, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first := store.row("sov_0")
	if first == nil || first.LocationID == nil || *first.LocationID != "1" {
		t.Errorf("sov_0 location id = %v", first)
	}
	second := store.row("sov_1")
	if second == nil || second.LocationID != nil {
		t.Errorf("sov_1 should carry no location id without a location_number")
	}
}

func TestDocumentEffectiveDate(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]any
		want   *time.Time
	}{
		{"effective_date", map[string]any{"effective_date": "2024-03-01"}, timePtr(2024, 3, 1)},
		{"fallback to period start", map[string]any{"policy_period_start": "03/01/2024"}, timePtr(2024, 3, 1)},
		{"unparseable", map[string]any{"effective_date": "sometime soon"}, nil},
		{"absent", map[string]any{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := documentEffectiveDate([]storage.SectionExtraction{{
				SectionType: sections.Declarations, ExtractedFields: tc.fields,
			}})
			switch {
			case tc.want == nil && got != nil:
				t.Errorf("got %v, want nil", got)
			case tc.want != nil && (got == nil || !got.Equal(*tc.want)):
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func timePtr(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestNewComponentValidation(t *testing.T) {
	deps := workflow.Deps{}
	if _, err := NewComponent(nil, deps); err == nil {
		t.Error("expected error for missing store")
	}
	if _, err := NewComponent(json.RawMessage(`{"embedding_version": ""}`), deps); err == nil {
		t.Error("expected error for empty embedding version")
	}
	if _, err := NewComponent(json.RawMessage(`{bad`), deps); err == nil {
		t.Error("expected error for malformed config")
	}
}
