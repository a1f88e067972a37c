package sectionextractor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/llm/testutil"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

type fakeStore struct {
	doc            *storage.Document
	classification *storage.DocumentClassification
	chunks         []storage.DocumentChunk
	tables         []storage.DocumentTable
	sovItems       []storage.SOVItem
	lossClaims     []storage.LossRunClaim

	extractions []*storage.SectionExtraction
	savedStatus storage.DocumentStatus
}

func (f *fakeStore) GetDocument(_ context.Context, _ int64) (*storage.Document, error) {
	return f.doc, nil
}

func (f *fakeStore) GetClassification(_ context.Context, _ int64) (*storage.DocumentClassification, error) {
	if f.classification == nil {
		return nil, storage.ErrNotFound
	}
	return f.classification, nil
}

func (f *fakeStore) ListChunks(_ context.Context, _ int64) ([]storage.DocumentChunk, error) {
	return f.chunks, nil
}

func (f *fakeStore) ListTables(_ context.Context, _ int64) ([]storage.DocumentTable, error) {
	return f.tables, nil
}

func (f *fakeStore) ListSOVItems(_ context.Context, _ int64) ([]storage.SOVItem, error) {
	return f.sovItems, nil
}

func (f *fakeStore) ListLossRunClaims(_ context.Context, _ int64) ([]storage.LossRunClaim, error) {
	return f.lossClaims, nil
}

func (f *fakeStore) CreateSectionExtraction(_ context.Context, e *storage.SectionExtraction) error {
	f.extractions = append(f.extractions, e)
	return nil
}

func (f *fakeStore) UpdateDocumentStatus(_ context.Context, _ int64, status storage.DocumentStatus) error {
	f.savedStatus = status
	return nil
}

func (f *fakeStore) bySection(sectionType string) *storage.SectionExtraction {
	for _, e := range f.extractions {
		if e.SectionType == sectionType {
			return e
		}
	}
	return nil
}

func newTestStore() *fakeStore {
	return &fakeStore{
		doc: &storage.Document{ID: 42, Filename: "CPP-2024-001.pdf", PageCount: 6, Status: storage.DocumentStatusClassified},
		classification: &storage.DocumentClassification{
			DocumentID: 42, DocumentType: "policy", Confidence: 0.9,
		},
		chunks: []storage.DocumentChunk{
			{ID: 1, DocumentID: 42, StableChunkID: "doc_42_p1_c0", PageNumber: 1, ChunkIndex: 0,
				SectionType: sections.Declarations, RawText: "Policy No. CPP-2024-001, Named Insured: Acme Manufacturing LLC"},
			{ID: 2, DocumentID: 42, StableChunkID: "doc_42_p2_c0", PageNumber: 2, ChunkIndex: 0,
				SectionType: sections.Coverages, RawText: "Building coverage with a $1,000,000 limit per occurrence."},
			{ID: 3, DocumentID: 42, StableChunkID: "doc_42_p3_c0", PageNumber: 3, ChunkIndex: 0,
				SectionType: sections.Coverages, RawText: "Business income coverage applies at the described premises."},
		},
	}
}

func newTestComponent(store Store, mock *testutil.MockLLMClient, cfg Config) *Component {
	return &Component{
		name:   "section-extractor",
		config: cfg,
		store:  store,
		llm:    mock,
		logger: slog.Default(),
	}
}

func TestRunExtractsSections(t *testing.T) {
	store := newTestStore()
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{
		Content: `{"sections": {
			"declarations": {"policy_number": "CPP-2024-001", "insured_name": "Acme Manufacturing LLC", "confidence": 0.92, "entities": []},
			"coverages": {"coverages": [{"coverage_name": "Building", "limit": 1000000}], "confidence": 0.88, "entities": []}
		}}`,
		Model: "extractor-model-1",
	}}}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mock.GetCallCount(); got != 1 {
		t.Fatalf("llm calls = %d, want 1", got)
	}
	if len(store.extractions) != 2 {
		t.Fatalf("extractions = %d, want 2", len(store.extractions))
	}

	decl := store.bySection(sections.Declarations)
	if decl == nil {
		t.Fatal("no declarations extraction")
	}
	if decl.ExtractedFields["policy_number"] != "CPP-2024-001" {
		t.Errorf("policy_number = %v", decl.ExtractedFields["policy_number"])
	}
	if decl.Confidence != 0.92 {
		t.Errorf("declarations confidence = %v, want 0.92", decl.Confidence)
	}
	if decl.PageRange != (storage.PageRange{Start: 1, End: 1}) {
		t.Errorf("declarations page range = %+v", decl.PageRange)
	}
	if decl.ModelVersion != "extractor-model-1" || decl.PromptVersion != PromptVersion {
		t.Errorf("version stamps = %q / %q", decl.ModelVersion, decl.PromptVersion)
	}

	cov := store.bySection(sections.Coverages)
	if cov == nil {
		t.Fatal("no coverages extraction")
	}
	if cov.PageRange != (storage.PageRange{Start: 2, End: 3}) {
		t.Errorf("coverages page range = %+v", cov.PageRange)
	}
	if len(cov.SourceChunks.ChunkIDs) != 2 || cov.SourceChunks.ChunkIDs[0] != 2 {
		t.Errorf("coverages source chunks = %+v", cov.SourceChunks)
	}
	list, ok := cov.ExtractedFields["coverages"].([]any)
	if !ok || len(list) != 1 {
		t.Errorf("coverages list = %v", cov.ExtractedFields["coverages"])
	}

	if decl.PipelineRunID == "" || decl.PipelineRunID != cov.PipelineRunID {
		t.Errorf("pipeline run ids differ: %q vs %q", decl.PipelineRunID, cov.PipelineRunID)
	}
	if store.savedStatus != storage.DocumentStatusExtracted {
		t.Errorf("status = %q, want extracted", store.savedStatus)
	}
}

func TestRunBatchesSections(t *testing.T) {
	store := newTestStore()
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: `{"sections": {"declarations": {"policy_number": "CPP-2024-001"}}}`, Model: "m"},
		{Content: `{"sections": {"coverages": {"coverages": []}}}`, Model: "m"},
	}}
	cfg := DefaultConfig()
	cfg.MaxSectionsPerCall = 1
	c := newTestComponent(store, mock, cfg)

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mock.GetCallCount(); got != 2 {
		t.Fatalf("llm calls = %d, want 2", got)
	}
	if len(store.extractions) != 2 {
		t.Fatalf("extractions = %d, want 2", len(store.extractions))
	}
}

func TestRunRepairsUnparseableResponse(t *testing.T) {
	store := newTestStore()
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: "I found the following sections in the document.", Model: "m"},
		{Content: `{"sections": {"declarations": {"policy_number": "CPP-2024-001"}, "coverages": {"coverages": []}}}`, Model: "m"},
	}}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mock.GetCallCount(); got != 2 {
		t.Fatalf("llm calls = %d, want 2", got)
	}
	decl := store.bySection(sections.Declarations)
	if decl == nil || decl.ExtractedFields["policy_number"] != "CPP-2024-001" {
		t.Fatalf("declarations not recovered after repair: %+v", decl)
	}
}

func TestRunRecordsEmptySectionsWhenRepairFails(t *testing.T) {
	store := newTestStore()
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: "not json", Model: "m"},
		{Content: "still not json", Model: "m"},
	}}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.extractions) != 2 {
		t.Fatalf("extractions = %d, want 2", len(store.extractions))
	}
	cov := store.bySection(sections.Coverages)
	if cov == nil {
		t.Fatal("no coverages extraction")
	}
	if cov.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", cov.Confidence)
	}
	list, ok := cov.ExtractedFields["coverages"].([]any)
	if !ok || len(list) != 0 {
		t.Errorf("coverages = %v, want empty list", cov.ExtractedFields["coverages"])
	}
	if store.savedStatus != storage.DocumentStatusExtracted {
		t.Errorf("status = %q, stage should still complete", store.savedStatus)
	}
}

func TestRunRecordsEmptySectionWhenModelOmitsIt(t *testing.T) {
	store := newTestStore()
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{
		Content: `{"sections": {"declarations": {"policy_number": "CPP-2024-001"}}}`,
		Model:   "m",
	}}}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cov := store.bySection(sections.Coverages)
	if cov == nil {
		t.Fatal("omitted section should still be recorded")
	}
	if cov.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", cov.Confidence)
	}
}

func TestRunExtractsSOVFromTables(t *testing.T) {
	store := newTestStore()
	store.chunks = []storage.DocumentChunk{
		{ID: 9, DocumentID: 42, StableChunkID: "doc_42_p1_c0", PageNumber: 1, ChunkIndex: 0,
			SectionType: sections.SOV, RawText: "Loc | Address | TIV"},
	}
	store.tables = []storage.DocumentTable{
		{ID: 5, DocumentID: 42, TableType: sections.TablePropertySOV, PageNumber: 1},
		{ID: 6, DocumentID: 42, TableType: sections.TablePropertySOV, PageNumber: 2},
	}
	store.sovItems = []storage.SOVItem{
		{TableID: 5, LocationNumber: "1", Address: "100 Main St", City: "Springfield", State: "IL", TIV: 2500000},
		{TableID: 6, LocationNumber: "2", Address: "200 Oak Ave", City: "Peoria", State: "IL", TIV: 1200000},
	}
	mock := &testutil.MockLLMClient{}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mock.GetCallCount(); got != 0 {
		t.Fatalf("llm calls = %d, want 0 for table-backed sov", got)
	}

	sov := store.bySection(sections.SOV)
	if sov == nil {
		t.Fatal("no sov extraction")
	}
	if sov.ModelVersion != ModelVersionTables {
		t.Errorf("model version = %q, want %q", sov.ModelVersion, ModelVersionTables)
	}
	if sov.Confidence != tableConfidence {
		t.Errorf("confidence = %v, want %v", sov.Confidence, tableConfidence)
	}
	if sov.PageRange != (storage.PageRange{Start: 1, End: 2}) {
		t.Errorf("page range = %+v", sov.PageRange)
	}
	locs, ok := sov.ExtractedFields["locations"].([]any)
	if !ok || len(locs) != 2 {
		t.Fatalf("locations = %v", sov.ExtractedFields["locations"])
	}
	ents, ok := sov.ExtractedFields["entities"].([]any)
	if !ok || len(ents) != 2 {
		t.Fatalf("entities = %v", sov.ExtractedFields["entities"])
	}
	first := ents[0].(map[string]any)
	if first["entity_type"] != entities.Location || first["value"] != "100 Main St" {
		t.Errorf("first entity = %+v", first)
	}
}

func TestRunSendsSOVToModelWhenTablesDisabled(t *testing.T) {
	store := newTestStore()
	store.chunks = []storage.DocumentChunk{
		{ID: 9, DocumentID: 42, StableChunkID: "doc_42_p1_c0", PageNumber: 1, ChunkIndex: 0,
			SectionType: sections.SOV, RawText: "Loc | Address | TIV"},
	}
	store.tables = []storage.DocumentTable{
		{ID: 5, DocumentID: 42, TableType: sections.TablePropertySOV, PageNumber: 1},
	}
	store.sovItems = []storage.SOVItem{{TableID: 5, LocationNumber: "1", Address: "100 Main St"}}
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{
		Content: `{"sections": {"sov": {"locations": [{"address": "100 Main St"}]}}}`, Model: "m",
	}}}
	cfg := DefaultConfig()
	cfg.PreferTables = false
	c := newTestComponent(store, mock, cfg)

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mock.GetCallCount(); got != 1 {
		t.Fatalf("llm calls = %d, want 1", got)
	}
	sov := store.bySection(sections.SOV)
	if sov == nil || sov.ModelVersion != "m" {
		t.Fatalf("sov should come from the model: %+v", sov)
	}
}

func TestRunPropagatesTransportErrors(t *testing.T) {
	store := newTestStore()
	mock := &testutil.MockLLMClient{Err: llm.NewTransientError(context.DeadlineExceeded)}
	c := newTestComponent(store, mock, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 42})
	if err == nil {
		t.Fatal("expected error")
	}
	if !llm.IsTransient(err) {
		t.Errorf("transient marker lost: %v", err)
	}
	if len(store.extractions) != 0 {
		t.Errorf("extractions persisted despite transport failure")
	}
}

func TestEffectiveSectionResolution(t *testing.T) {
	cases := []struct {
		effective, base, want string
	}{
		{sections.Coverages, sections.Declarations, sections.Coverages},
		{"", sections.Declarations, sections.Declarations},
		{"bogus", sections.Exclusions, sections.Exclusions},
		{"", "bogus", sections.Other},
		{"", "", sections.Other},
	}
	for _, tc := range cases {
		ch := storage.DocumentChunk{EffectiveSectionType: tc.effective, SectionType: tc.base}
		if got := effectiveSection(ch); got != tc.want {
			t.Errorf("effectiveSection(%q, %q) = %q, want %q", tc.effective, tc.base, got, tc.want)
		}
	}
}

func TestBuildLossRunFields(t *testing.T) {
	dol := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	claims := []storage.LossRunClaim{
		{ClaimNumber: "CLM-001", DateOfLoss: &dol, Status: "closed", CauseOfLoss: "wind", PaidAmount: 15000},
		{ClaimNumber: "CLM-002", Status: "open", IncurredAmount: 40000},
	}
	fields := BuildLossRunFields(claims)

	list, ok := fields["claims"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("claims = %v", fields["claims"])
	}
	first := list[0].(map[string]any)
	if first["date_of_loss"] != "2023-06-15" {
		t.Errorf("date_of_loss = %v", first["date_of_loss"])
	}
	second := list[1].(map[string]any)
	if _, present := second["date_of_loss"]; present {
		t.Errorf("missing date of loss should stay absent")
	}
	ents := fields["entities"].([]any)
	if ent := ents[1].(map[string]any); ent["entity_type"] != entities.Claim || ent["value"] != "CLM-002" {
		t.Errorf("second entity = %+v", ent)
	}
}

func TestNormalizeFieldsMovesUnknownKeysToAdditionalData(t *testing.T) {
	raw := map[string]any{
		"policy_number":   "CPP-2024-001",
		"underwriter":     "J. Smith",
		"confidence":      0.9,
		"additional_data": map[string]any{"branch": "Chicago"},
	}
	out := NormalizeFields(sections.Declarations, raw)

	if out["policy_number"] != "CPP-2024-001" {
		t.Errorf("approved key lost: %v", out)
	}
	if _, top := out["underwriter"]; top {
		t.Errorf("unknown key stayed top-level: %v", out)
	}
	extra, ok := out["additional_data"].(map[string]any)
	if !ok {
		t.Fatalf("no additional_data: %v", out)
	}
	if extra["underwriter"] != "J. Smith" || extra["branch"] != "Chicago" {
		t.Errorf("additional_data = %v", extra)
	}
}

func TestNormalizeFieldsCoercesChildList(t *testing.T) {
	out := NormalizeFields(sections.Coverages, map[string]any{
		"coverages": map[string]any{"coverage_name": "Building"},
	})
	list, ok := out["coverages"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("coverages = %v", out["coverages"])
	}

	out = NormalizeFields(sections.Coverages, map[string]any{"coverages": "none"})
	list, ok = out["coverages"].([]any)
	if !ok || len(list) != 0 {
		t.Fatalf("scalar child list should coerce to empty: %v", out["coverages"])
	}
}

func TestSectionConfidenceDefaultsAndClamps(t *testing.T) {
	if got := SectionConfidence(map[string]any{}); got != 0.75 {
		t.Errorf("default = %v, want 0.75", got)
	}
	if got := SectionConfidence(map[string]any{"confidence": 1.4}); got != 1 {
		t.Errorf("clamp high = %v, want 1", got)
	}
	if got := SectionConfidence(map[string]any{"confidence": -0.2}); got != 0 {
		t.Errorf("clamp low = %v, want 0", got)
	}
}

func TestNewComponentValidation(t *testing.T) {
	if _, err := NewComponent(nil, workflow.Deps{}); err == nil {
		t.Error("expected error without store")
	}

	raw := []byte(`{"max_sections_per_call": 0}`)
	if _, err := NewComponent(raw, workflow.Deps{Store: &storage.Store{}, LLM: &llm.Client{}}); err == nil {
		t.Error("expected error for invalid config")
	}
}
