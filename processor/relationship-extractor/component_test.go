package relationshipextractor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/llm/testutil"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
	"github.com/strataline/policygraph/vocabulary/relations"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

type fakeStore struct {
	classification *storage.DocumentClassification
	chunks         []storage.DocumentChunk
	tables         []storage.DocumentTable
	canonicals     []storage.CanonicalEntity

	createdEntities []*storage.CanonicalEntity
	relationships   []*storage.EntityRelationship
	entityScope     map[int64]int64
	relScope        map[int64]int64
	nextID          int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{entityScope: map[int64]int64{}, relScope: map[int64]int64{}, nextID: 100}
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

func (f *fakeStore) ListCanonicalEntitiesByWorkflow(_ context.Context, _ int64) ([]storage.CanonicalEntity, error) {
	return f.canonicals, nil
}

func (f *fakeStore) GetOrCreateCanonicalEntity(_ context.Context, entityType, canonicalKey string, base map[string]any) (*storage.CanonicalEntity, bool, error) {
	f.nextID++
	e := &storage.CanonicalEntity{ID: f.nextID, EntityType: entityType, CanonicalKey: canonicalKey, Attributes: base}
	f.createdEntities = append(f.createdEntities, e)
	return e, true, nil
}

func (f *fakeStore) AddWorkflowEntityScope(_ context.Context, workflowID, canonicalEntityID int64) error {
	f.entityScope[canonicalEntityID] = workflowID
	return nil
}

func (f *fakeStore) UpsertRelationship(_ context.Context, r *storage.EntityRelationship) error {
	f.nextID++
	r.ID = f.nextID
	f.relationships = append(f.relationships, r)
	return nil
}

func (f *fakeStore) AddWorkflowRelationshipScope(_ context.Context, workflowID, relationshipID int64) error {
	f.relScope[relationshipID] = workflowID
	return nil
}

func declarationsChunk() storage.DocumentChunk {
	return storage.DocumentChunk{
		ID: 1, DocumentID: 1, StableChunkID: "doc_1_p1_c0", PageNumber: 1,
		SectionType: sections.Declarations,
		RawText:     "Policy CPP-2024-001 issued by Midwest Mutual Insurance Company to Acme Manufacturing LLC.",
	}
}

func coveragesChunk() storage.DocumentChunk {
	return storage.DocumentChunk{
		ID: 2, DocumentID: 1, StableChunkID: "doc_1_p2_c0", PageNumber: 2,
		SectionType: sections.Coverages,
		RawText:     "Building Coverage applies to the premises described in the Declarations.",
	}
}

func policyAndOrg() []storage.CanonicalEntity {
	return []storage.CanonicalEntity{
		canonicalFixture(1, entities.Policy, "CPP-2024-001"),
		canonicalFixture(2, entities.Organization, "Midwest Mutual Insurance Company"),
	}
}

func edgeJSON(source, target, relType string, confidence float64, quote string) string {
	return fmt.Sprintf(`{"relationships": [{"source_entity_id": %q, "target_entity_id": %q, "type": %q, "confidence": %v, "evidence": [{"quote": %q}]}]}`,
		source, target, relType, confidence, quote)
}

func newTestComponent(store Store, mock *testutil.MockLLMClient, cfg Config) *Component {
	return &Component{name: "relationship-extractor", config: cfg, store: store, llm: mock, logger: slog.Default()}
}

func TestRunExtractsAndPersistsEdges(t *testing.T) {
	store := newFakeStore()
	store.canonicals = policyAndOrg()
	store.chunks = []storage.DocumentChunk{declarationsChunk()}

	policyID := identity.EntityID(entities.Policy, "CPP-2024-001")
	orgID := identity.EntityID(entities.Organization, "Midwest Mutual Insurance Company")
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: edgeJSON(policyID, orgID, relations.IssuedBy, 0.95, "issued by Midwest Mutual"), Model: "m"},
		{Content: `{"relationships": []}`, Model: "m"},
	}}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 5, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// One batch (policy_identity) plus the synthesis pass.
	if got := mock.GetCallCount(); got != 2 {
		t.Fatalf("llm calls = %d, want 2", got)
	}
	if len(store.relationships) != 1 {
		t.Fatalf("relationships = %d, want 1", len(store.relationships))
	}

	rel := store.relationships[0]
	if rel.SourceEntityID != 1 || rel.TargetEntityID != 2 || rel.RelationshipType != relations.IssuedBy {
		t.Errorf("edge = %+v", rel)
	}
	if rel.Attributes["extraction_batch"] != "policy_identity" {
		t.Errorf("extraction_batch = %v", rel.Attributes["extraction_batch"])
	}
	ev, ok := rel.Attributes["evidence"].([]any)
	if !ok || len(ev) != 1 {
		t.Errorf("evidence = %v", rel.Attributes["evidence"])
	}
	if rel.DocumentID == nil || *rel.DocumentID != 1 || rel.WorkflowID == nil || *rel.WorkflowID != 5 {
		t.Errorf("provenance = %v / %v", rel.DocumentID, rel.WorkflowID)
	}
	if store.relScope[rel.ID] != 5 {
		t.Errorf("relationship not scoped to workflow")
	}
}

func TestRunDeduplicatesAcrossBatches(t *testing.T) {
	store := newFakeStore()
	store.canonicals = []storage.CanonicalEntity{
		canonicalFixture(1, entities.Policy, "CPP-2024-001"),
		canonicalFixture(2, entities.Coverage, "Building Coverage"),
	}
	store.chunks = []storage.DocumentChunk{declarationsChunk(), coveragesChunk()}

	policyID := identity.EntityID(entities.Policy, "CPP-2024-001")
	covID := identity.EntityID(entities.Coverage, "Building Coverage")
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: edgeJSON(policyID, covID, relations.HasCoverage, 0.8, "first quote"), Model: "m"},
		{Content: edgeJSON(policyID, covID, relations.HasCoverage, 0.93, "second quote"), Model: "m"},
	}}
	cfg := DefaultConfig()
	cfg.Synthesis = false
	c := newTestComponent(store, mock, cfg)

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 5, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.relationships) != 1 {
		t.Fatalf("relationships = %d, want 1 after dedup", len(store.relationships))
	}
	rel := store.relationships[0]
	if rel.Confidence != 0.93 {
		t.Errorf("confidence = %v, want max 0.93", rel.Confidence)
	}
	ev := rel.Attributes["evidence"].([]any)
	if len(ev) != 2 {
		t.Errorf("evidence union = %d elements, want 2", len(ev))
	}
	if rel.Attributes["extraction_batch"] != "policy_identity" {
		t.Errorf("first batch should own the edge: %v", rel.Attributes["extraction_batch"])
	}
}

func TestRunReconcilesTempEntities(t *testing.T) {
	store := newFakeStore()
	store.canonicals = []storage.CanonicalEntity{canonicalFixture(1, entities.Policy, "CPP-2024-001")}
	store.chunks = []storage.DocumentChunk{declarationsChunk()}

	policyID := identity.EntityID(entities.Policy, "CPP-2024-001")
	batchResp := fmt.Sprintf(`{
		"relationships": [{"source_entity_id": %q, "target_entity_id": "temp_organization_1",
			"type": "ISSUED_BY", "confidence": 0.9, "evidence": [{"quote": "issued by Midwest Mutual"}]}],
		"new_entities": [{"temp_id": "temp_organization_1", "entity_type": "Organization",
			"name": "Midwest Mutual Insurance Company", "confidence": 0.9}]
	}`, policyID)
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: batchResp, Model: "m"},
	}}
	cfg := DefaultConfig()
	cfg.Synthesis = false
	c := newTestComponent(store, mock, cfg)

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 5, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.createdEntities) != 1 {
		t.Fatalf("created entities = %d, want 1", len(store.createdEntities))
	}
	created := store.createdEntities[0]
	if created.EntityType != entities.Organization {
		t.Errorf("created type = %q", created.EntityType)
	}
	if created.CanonicalKey != identity.CanonicalKey(entities.Organization, "Midwest Mutual Insurance Company") {
		t.Errorf("created key = %q", created.CanonicalKey)
	}
	if store.entityScope[created.ID] != 5 {
		t.Errorf("created entity not scoped")
	}
	if len(store.relationships) != 1 || store.relationships[0].TargetEntityID != created.ID {
		t.Fatalf("edge should bind the created entity: %+v", store.relationships)
	}
}

func TestRunDiscardsInvalidCandidates(t *testing.T) {
	store := newFakeStore()
	store.canonicals = policyAndOrg()
	store.chunks = []storage.DocumentChunk{declarationsChunk()}

	policyID := identity.EntityID(entities.Policy, "CPP-2024-001")
	orgID := identity.EntityID(entities.Organization, "Midwest Mutual Insurance Company")
	batchResp := fmt.Sprintf(`{"relationships": [
		{"source_entity_id": %q, "target_entity_id": %q, "type": "LIKES", "confidence": 0.95, "evidence": [{"quote": "x"}]},
		{"source_entity_id": "nobody_at_all_here", "target_entity_id": %q, "type": "ISSUED_BY", "confidence": 0.95, "evidence": [{"quote": "x"}]},
		{"source_entity_id": %q, "target_entity_id": %q, "type": "ISSUED_BY", "confidence": 0.5, "evidence": [{"quote": "x"}]},
		{"source_entity_id": %q, "target_entity_id": %q, "type": "ISSUED_BY", "confidence": 0.95, "evidence": []},
		{"source_entity_id": %q, "target_entity_id": %q, "type": "RENEWED_AS", "confidence": 0.95, "evidence": [{"quote": "x"}]}
	]}`, policyID, orgID, orgID, policyID, orgID, policyID, orgID, policyID, policyID)
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: batchResp, Model: "m"},
	}}
	cfg := DefaultConfig()
	cfg.Synthesis = false
	c := newTestComponent(store, mock, cfg)

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 5, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.relationships) != 0 {
		t.Fatalf("relationships = %d, want 0 (all discarded)", len(store.relationships))
	}
}

func TestRunTagsSynthesisEdges(t *testing.T) {
	store := newFakeStore()
	store.canonicals = policyAndOrg()
	store.chunks = []storage.DocumentChunk{declarationsChunk()}

	policyID := identity.EntityID(entities.Policy, "CPP-2024-001")
	orgID := identity.EntityID(entities.Organization, "Midwest Mutual Insurance Company")
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: `{"relationships": []}`, Model: "m"},
		{Content: edgeJSON(policyID, orgID, relations.ReinsuredBy, 0.85, "reinsured through"), Model: "m"},
	}}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 5, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.relationships) != 1 {
		t.Fatalf("relationships = %d, want 1", len(store.relationships))
	}
	if got := store.relationships[0].Attributes["extraction_batch"]; got != SynthesisBatch {
		t.Errorf("extraction_batch = %v, want %q", got, SynthesisBatch)
	}
}

func TestRunSkipsBatchAfterRepairFailure(t *testing.T) {
	store := newFakeStore()
	store.canonicals = policyAndOrg()
	store.chunks = []storage.DocumentChunk{declarationsChunk()}

	mock := &testutil.MockLLMClient{Responses: []*llm.Response{
		{Content: "not json", Model: "m"},
		{Content: "still not json", Model: "m"},
	}}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 5, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Two parse attempts for the batch; with no processed batches there is
	// nothing to synthesize.
	if got := mock.GetCallCount(); got != 2 {
		t.Fatalf("llm calls = %d, want 2", got)
	}
	if len(store.relationships) != 0 {
		t.Errorf("no edges expected")
	}
}

func TestRunSkipsWithoutEntities(t *testing.T) {
	store := newFakeStore()
	mock := &testutil.MockLLMClient{}
	c := newTestComponent(store, mock, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 5, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mock.GetCallCount(); got != 0 {
		t.Errorf("llm calls = %d, want 0", got)
	}
}

func TestRunPropagatesTransportErrors(t *testing.T) {
	store := newFakeStore()
	store.canonicals = policyAndOrg()
	store.chunks = []storage.DocumentChunk{declarationsChunk()}
	mock := &testutil.MockLLMClient{Err: llm.NewTransientError(context.DeadlineExceeded)}
	c := newTestComponent(store, mock, DefaultConfig())

	err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 5, DocumentID: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if !llm.IsTransient(err) {
		t.Errorf("transient marker lost: %v", err)
	}
}

func TestValidEvidenceFiltersJunk(t *testing.T) {
	out := validEvidence([]map[string]any{
		{"quote": "real quote"},
		{"quote": "   "},
		{"sov_id": float64(12)},
		{"note": "no usable reference"},
		{"table_id": "doc_1_p3_t0"},
	})
	if len(out) != 3 {
		t.Fatalf("evidence = %d elements, want 3", len(out))
	}
}

func TestUserPromptCarriesBatchContext(t *testing.T) {
	view := BatchView{
		Def:     semanticBatches[0],
		DocType: "policy",
		Entities: []EntityRef{
			{EntityID: "policy_abc", EntityType: entities.Policy, Name: "CPP-2024-001"},
		},
		Sections: []SectionChunks{{
			SectionType: sections.Declarations,
			Chunks:      []ChunkText{{PageNumber: 1, Text: "Policy CPP-2024-001"}},
		}},
		Tables: []storage.DocumentTable{{
			StableTableID: "doc_1_p4_t0", TableType: sections.TablePremiumSchedule,
			TableJSON: map[string]any{"rows": []any{}},
		}},
	}
	prompt := UserPrompt(view)
	for _, want := range []string{"policy_identity", "policy_abc", "[p1] Policy CPP-2024-001", "doc_1_p4_t0", "ISSUED_BY"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
