package entityresolver

import (
	"context"
	"log/slog"
	"testing"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

type fakeStore struct {
	mentions    []storage.EntityMention
	extractions []storage.SectionExtraction

	canonicals      map[string]*storage.CanonicalEntity
	createdMentions []*storage.EntityMention
	evidence        []*storage.EntityEvidence
	scoped          map[int64]int64
	nextID          int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		canonicals: map[string]*storage.CanonicalEntity{},
		scoped:     map[int64]int64{},
	}
}

func (f *fakeStore) ListEntityMentions(_ context.Context, _ int64) ([]storage.EntityMention, error) {
	return f.mentions, nil
}

func (f *fakeStore) ListSectionExtractions(_ context.Context, _, _ int64) ([]storage.SectionExtraction, error) {
	return f.extractions, nil
}

func (f *fakeStore) CreateEntityMention(_ context.Context, m *storage.EntityMention) error {
	f.nextID++
	m.ID = f.nextID
	f.createdMentions = append(f.createdMentions, m)
	return nil
}

func (f *fakeStore) GetOrCreateCanonicalEntity(_ context.Context, entityType, canonicalKey string, base map[string]any) (*storage.CanonicalEntity, bool, error) {
	if e, ok := f.canonicals[canonicalKey]; ok {
		merged, _ := storage.MergeAttributes(e.Attributes, base)
		e.Attributes = merged
		return e, false, nil
	}
	f.nextID++
	e := &storage.CanonicalEntity{ID: f.nextID, EntityType: entityType, CanonicalKey: canonicalKey, Attributes: base}
	f.canonicals[canonicalKey] = e
	return e, true, nil
}

func (f *fakeStore) CreateEntityEvidence(_ context.Context, ev *storage.EntityEvidence) error {
	f.nextID++
	ev.ID = f.nextID
	f.evidence = append(f.evidence, ev)
	return nil
}

func (f *fakeStore) AddWorkflowEntityScope(_ context.Context, workflowID, canonicalEntityID int64) error {
	f.scoped[canonicalEntityID] = workflowID
	return nil
}

func newTestComponent(store Store, cfg Config) *Component {
	return &Component{name: "entity-resolver", config: cfg, store: store, logger: slog.Default()}
}

func declarationsExtraction() storage.SectionExtraction {
	return storage.SectionExtraction{
		ID: 300, SectionType: sections.Declarations,
		SourceChunks: storage.SourceChunks{StableChunkIDs: []string{"doc_1_p1_c0"}},
		ExtractedFields: map[string]any{"entities": []any{
			map[string]any{"entity_type": "Policy", "value": "CPP-2024-001", "confidence": 0.97},
			map[string]any{"entity_type": "Organization", "value": "Acme Manufacturing LLC",
				"confidence": 0.95, "attributes": map[string]any{"role": "insured"}},
		}},
	}
}

func TestRunResolvesExtractionEntities(t *testing.T) {
	store := newFakeStore()
	store.extractions = []storage.SectionExtraction{declarationsExtraction()}
	c := newTestComponent(store, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 9, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.canonicals) != 2 {
		t.Fatalf("canonicals = %d, want 2", len(store.canonicals))
	}
	key := identity.CanonicalKey(entities.Policy, "CPP-2024-001")
	policy := store.canonicals[key]
	if policy == nil {
		t.Fatalf("policy canonical missing under derived key")
	}
	if policy.Attributes["entity_id"] != identity.EntityID(entities.Policy, "CPP-2024-001") {
		t.Errorf("entity_id attribute = %v", policy.Attributes["entity_id"])
	}
	if policy.Attributes["normalized_value"] != "CPP-2024-001" {
		t.Errorf("normalized_value = %v", policy.Attributes["normalized_value"])
	}

	if len(store.createdMentions) != 2 {
		t.Fatalf("mentions = %d, want 2", len(store.createdMentions))
	}
	m := store.createdMentions[0]
	if m.SectionExtractionID == nil || *m.SectionExtractionID != 300 {
		t.Errorf("mention extraction id = %v", m.SectionExtractionID)
	}
	if m.SourceStableChunkID == nil || *m.SourceStableChunkID != "doc_1_p1_c0" {
		t.Errorf("mention chunk id = %v", m.SourceStableChunkID)
	}

	if len(store.evidence) != 2 {
		t.Fatalf("evidence = %d, want 2", len(store.evidence))
	}
	for _, ev := range store.evidence {
		if store.scoped[ev.CanonicalEntityID] != 9 {
			t.Errorf("canonical %d not scoped to workflow", ev.CanonicalEntityID)
		}
	}
}

func TestRunReusesExistingMentions(t *testing.T) {
	store := newFakeStore()
	store.mentions = []storage.EntityMention{
		{ID: 77, DocumentID: 1, EntityType: "Policy", MentionText: "CPP-2024-001", Confidence: 0.97},
	}
	c := newTestComponent(store, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 9, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.createdMentions) != 0 {
		t.Fatalf("mention rows duplicated: %d", len(store.createdMentions))
	}
	if len(store.evidence) != 1 || store.evidence[0].EntityMentionID != 77 {
		t.Fatalf("evidence should bind the existing mention: %+v", store.evidence)
	}
}

func TestRunFiltersLowQualityCoverage(t *testing.T) {
	store := newFakeStore()
	store.extractions = []storage.SectionExtraction{{
		ID: 1, SectionType: sections.Coverages,
		ExtractedFields: map[string]any{"entities": []any{
			map[string]any{"entity_type": "Coverage", "value": "Building Coverage", "confidence": 0.95},
			map[string]any{"entity_type": "Coverage", "value": "coverage", "confidence": 0.99},
			map[string]any{"entity_type": "Coverage", "value": "Water Backup", "confidence": 0.5},
		}},
	}}
	c := newTestComponent(store, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 9, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.canonicals) != 1 {
		t.Fatalf("canonicals = %d, want 1 survivor", len(store.canonicals))
	}
	for _, e := range store.canonicals {
		if e.Attributes["name"] != "Building Coverage" {
			t.Errorf("survivor = %v", e.Attributes["name"])
		}
	}
}

func TestRunMergesOnReencounter(t *testing.T) {
	store := newFakeStore()
	key := identity.CanonicalKey(entities.Policy, "CPP-2024-001")
	store.canonicals[key] = &storage.CanonicalEntity{
		ID: 1, EntityType: entities.Policy, CanonicalKey: key,
		Attributes: map[string]any{"description": "short", "carrier": "Old Mutual"},
	}
	store.extractions = []storage.SectionExtraction{{
		ID: 2, SectionType: sections.Declarations,
		ExtractedFields: map[string]any{"entities": []any{
			map[string]any{"entity_type": "Policy", "value": "CPP-2024-001", "confidence": 0.9,
				"attributes": map[string]any{"description": "a longer description of the policy", "carrier": "New Carrier"}},
		}},
	}}
	c := newTestComponent(store, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 9, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	e := store.canonicals[key]
	if e.Attributes["description"] != "a longer description of the policy" {
		t.Errorf("description should grow: %v", e.Attributes["description"])
	}
	if e.Attributes["carrier"] != "Old Mutual" {
		t.Errorf("ordinary attribute should keep first writer: %v", e.Attributes["carrier"])
	}
}

func TestRunEnrichesFromSectionOutputs(t *testing.T) {
	store := newFakeStore()
	store.extractions = []storage.SectionExtraction{
		{
			ID: 1, SectionType: sections.Coverages,
			ExtractedFields: map[string]any{
				"coverages": []any{map[string]any{
					"coverage_name": "Building Coverage",
					"description":   "Covers direct physical loss to described buildings.",
				}},
				"entities": []any{map[string]any{
					"entity_type": "Coverage", "value": "Building Coverage", "confidence": 0.95,
				}},
			},
		},
	}
	c := newTestComponent(store, DefaultConfig())

	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 9, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, e := range store.canonicals {
		if e.Attributes["description"] != "Covers direct physical loss to described buildings." {
			t.Errorf("description not enriched: %v", e.Attributes)
		}
	}
}

func TestRunNoCandidatesIsNotAnError(t *testing.T) {
	store := newFakeStore()
	c := newTestComponent(store, DefaultConfig())
	if err := c.Run(context.Background(), workflow.StageRequest{WorkflowID: 9, DocumentID: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.canonicals) != 0 {
		t.Errorf("nothing should be written")
	}
}

func TestMentionTextPrefersHumanNames(t *testing.T) {
	c := Candidate{RawValue: "building_coverage_1", Attributes: map[string]any{
		"coverage_name": "Building Coverage",
	}}
	if got := mentionText(c); got != "Building Coverage" {
		t.Errorf("mentionText = %q", got)
	}
	c = Candidate{RawValue: "Flood", Attributes: map[string]any{}}
	if got := mentionText(c); got != "Flood" {
		t.Errorf("mentionText fallback = %q", got)
	}
}

func TestNewComponentValidation(t *testing.T) {
	if _, err := NewComponent(nil, workflow.Deps{}); err == nil {
		t.Error("expected error without store")
	}
	raw := []byte(`{"coverage_confidence_floor": 2}`)
	if _, err := NewComponent(raw, workflow.Deps{Store: &storage.Store{}}); err == nil {
		t.Error("expected error for invalid config")
	}
}
