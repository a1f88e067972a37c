package documentclassifier

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/llm/testutil"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/workflow"
)

type fakeStore struct {
	doc            *storage.Document
	classification *storage.DocumentClassification
	chunks         []storage.DocumentChunk

	saved       *storage.DocumentClassification
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

func (f *fakeStore) CreateClassification(_ context.Context, c *storage.DocumentClassification) error {
	f.saved = c
	return nil
}

func (f *fakeStore) ListChunks(_ context.Context, _ int64) ([]storage.DocumentChunk, error) {
	return f.chunks, nil
}

func (f *fakeStore) UpdateDocumentStatus(_ context.Context, _ int64, status storage.DocumentStatus) error {
	f.savedStatus = status
	return nil
}

func newTestStore() *fakeStore {
	return &fakeStore{
		doc: &storage.Document{ID: 7, Filename: "CPP-2024-lossrun.pdf", PageCount: 4, Status: storage.DocumentStatusOCRProcessed},
		chunks: []storage.DocumentChunk{
			{DocumentID: 7, PageNumber: 1, ChunkIndex: 0, RawText: "COMMERCIAL PROPERTY POLICY DECLARATIONS"},
			{DocumentID: 7, PageNumber: 1, ChunkIndex: 1, RawText: "Named Insured: Acme Manufacturing LLC"},
		},
	}
}

func newTestComponent(store Store, mock *testutil.MockLLMClient, cfg Config) *Component {
	return &Component{
		name:   "document-classifier",
		config: cfg,
		store:  store,
		llm:    mock,
		logger: slog.Default(),
	}
}

func TestRunClassifiesDocument(t *testing.T) {
	store := newTestStore()
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{
		Content: `{"document_type": "policy", "confidence": 0.93, "sections": {"declarations": {"start_page": 1, "end_page": 2}}}`,
		Model:   "classifier-model-1",
	}}}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.saved == nil {
		t.Fatal("no classification persisted")
	}
	if store.saved.DocumentType != TypePolicy {
		t.Fatalf("document_type = %q, want policy", store.saved.DocumentType)
	}
	if store.saved.Confidence != 0.93 {
		t.Fatalf("confidence = %v, want 0.93", store.saved.Confidence)
	}
	if store.saved.ModelVersion != "classifier-model-1" {
		t.Fatalf("model_version = %q", store.saved.ModelVersion)
	}
	if _, ok := store.saved.Sections["declarations"]; !ok {
		t.Fatal("declarations placement dropped")
	}
	if store.savedStatus != storage.DocumentStatusClassified {
		t.Fatalf("status = %q, want classified", store.savedStatus)
	}
}

func TestRunSkipsWhenClassificationExists(t *testing.T) {
	store := newTestStore()
	store.classification = &storage.DocumentClassification{DocumentID: 7, DocumentType: TypePolicy}
	mock := &testutil.MockLLMClient{}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if mock.GetCallCount() != 0 {
		t.Fatalf("LLM called %d times for an already-classified document", mock.GetCallCount())
	}
	if store.saved != nil {
		t.Fatal("classification rewritten")
	}
	if store.savedStatus != storage.DocumentStatusClassified {
		t.Fatalf("status = %q, want classified", store.savedStatus)
	}
}

func TestRunRepairsUnparseableResponse(t *testing.T) {
	store := newTestStore()
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: "the document appears to be a policy", Model: "m"},
		{Content: `{"document_type": "policy", "confidence": 0.8}`, Model: "m"},
	}}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if mock.GetCallCount() != 2 {
		t.Fatalf("LLM called %d times, want 2 (original + repair)", mock.GetCallCount())
	}
	if store.saved.DocumentType != TypePolicy {
		t.Fatalf("document_type = %q", store.saved.DocumentType)
	}
}

func TestRunFallsBackToFilenameHeuristic(t *testing.T) {
	store := newTestStore()
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: "not json", Model: "m"},
		{Content: "still not json", Model: "m"},
	}}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.saved.DocumentType != TypeLossRun {
		t.Fatalf("document_type = %q, want loss_run from filename", store.saved.DocumentType)
	}
	if store.saved.ModelVersion != ModelVersionHeuristic {
		t.Fatalf("model_version = %q, want heuristic marker", store.saved.ModelVersion)
	}
}

func TestRunPropagatesTransportErrors(t *testing.T) {
	store := newTestStore()
	mock := &testutil.MockLLMClient{Err: llm.NewTransientError(errors.New("gateway timeout"))}
	c := newTestComponent(store, mock, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 1, DocumentID: 7})
	if err == nil {
		t.Fatal("expected transport error to propagate")
	}
	if !llm.IsTransient(err) {
		t.Fatalf("transport error lost its transient marker: %v", err)
	}
	if store.saved != nil {
		t.Fatal("classification persisted despite transport failure")
	}
}

func TestValidateVerdictNormalizes(t *testing.T) {
	c := newTestComponent(newTestStore(), &testutil.MockLLMClient{}, DefaultConfig())
	doc := &storage.Document{ID: 7, PageCount: 4}

	v := c.validateVerdict(doc, classifyResult{
		DocumentType: " Policy ",
		Confidence:   1.7,
		Sections: map[string]pageSpan{
			"declarations": {StartPage: 1, EndPage: 2},
			"weird":        {StartPage: 1, EndPage: 1},
			"coverages":    {StartPage: 3, EndPage: 9},
		},
	})

	if v.DocumentType != TypePolicy {
		t.Fatalf("document_type = %q", v.DocumentType)
	}
	if v.Confidence != 1 {
		t.Fatalf("confidence = %v, want clamped to 1", v.Confidence)
	}
	if _, ok := v.Sections["weird"]; ok {
		t.Fatal("unknown section kept")
	}
	if _, ok := v.Sections["coverages"]; ok {
		t.Fatal("out-of-bounds placement kept")
	}
	if _, ok := v.Sections["declarations"]; !ok {
		t.Fatal("valid placement dropped")
	}
}

func TestClassifyByFilename(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"acme-sov-2024.xlsx.pdf", TypeSOV},
		{"Acme Loss Run 5yr.pdf", TypeLossRun},
		{"endorsement-CG2010.pdf", TypeEndorsement},
		{"quote_prop_2024.pdf", TypeQuote},
		{"acord-125.pdf", TypeACORDApplication},
		{"policy-CPP-100.pdf", TypePolicy},
		{"unrecognizable.pdf", TypePolicy},
	}
	for _, tc := range cases {
		got, conf := classifyByFilename(tc.filename)
		if got != tc.want {
			t.Errorf("classifyByFilename(%q) = %q, want %q", tc.filename, got, tc.want)
		}
		if conf <= 0 || conf >= 0.85 {
			t.Errorf("classifyByFilename(%q) confidence %v outside heuristic band", tc.filename, conf)
		}
	}
}
