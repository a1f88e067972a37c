package graphrag

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/strataline/policygraph/embedding"
	"github.com/strataline/policygraph/graphstore"
	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
	"github.com/strataline/policygraph/vocabulary/relations"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

type fakeLLM struct {
	responses []string
	err       error
	calls     int
	requests  []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return &llm.Response{Content: f.responses[i]}, nil
}

type fakeEncoder struct {
	err   error
	calls int
}

func (f *fakeEncoder) EncodeOne(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 0, 0, 0}, nil
}

type extractionKey struct {
	docID   int64
	section string
}

type fakeStore struct {
	docs          []storage.Document
	matchSets     [][]storage.EmbeddingMatch
	searchCalls   int
	searchFilters []storage.SearchFilters
	extractions   map[extractionKey]*storage.SectionExtraction
	chunks        map[string]*storage.DocumentChunk
	canonicals    []storage.CanonicalEntity
	rels          []storage.EntityRelationship
	traverseErr   error
	traverseSeeds []int64
	citations     []storage.Citation
	citationIDs   []string
}

func (s *fakeStore) ListWorkflowDocuments(_ context.Context, _ int64) ([]storage.Document, error) {
	return s.docs, nil
}

func (s *fakeStore) SemanticSearch(_ context.Context, _ []float32, _ int, filters storage.SearchFilters, _ float64) ([]storage.EmbeddingMatch, error) {
	i := s.searchCalls
	s.searchCalls++
	s.searchFilters = append(s.searchFilters, filters)
	if len(s.matchSets) == 0 {
		return nil, nil
	}
	if i >= len(s.matchSets) {
		i = len(s.matchSets) - 1
	}
	return s.matchSets[i], nil
}

func (s *fakeStore) GetLatestSectionExtraction(_ context.Context, documentID, _ int64, sectionType string) (*storage.SectionExtraction, error) {
	if ex, ok := s.extractions[extractionKey{documentID, sectionType}]; ok {
		return ex, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) GetChunkByStableID(_ context.Context, stableChunkID string) (*storage.DocumentChunk, error) {
	if c, ok := s.chunks[stableChunkID]; ok {
		return c, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) ListCanonicalEntitiesByWorkflow(_ context.Context, _ int64) ([]storage.CanonicalEntity, error) {
	return s.canonicals, nil
}

func (s *fakeStore) TraverseRelationships(_ context.Context, seedIDs []int64, _ int, _ []string) ([]storage.EntityRelationship, error) {
	s.traverseSeeds = append(s.traverseSeeds, seedIDs...)
	if s.traverseErr != nil {
		return nil, s.traverseErr
	}
	return s.rels, nil
}

func (s *fakeStore) ListCitationsBySourceIDs(_ context.Context, sourceIDs []string) ([]storage.Citation, error) {
	s.citationIDs = append(s.citationIDs, sourceIDs...)
	return s.citations, nil
}

type fakeGraph struct {
	neighbors []graphstore.Neighbor
	err       error
	calls     int
	lastSeeds []string
	lastDepth int
}

func (g *fakeGraph) Expand(_ context.Context, _ int64, seedIDs []string, depth int) ([]graphstore.Neighbor, error) {
	g.calls++
	g.lastSeeds = seedIDs
	g.lastDepth = depth
	if g.err != nil {
		return nil, g.err
	}
	return g.neighbors, nil
}

func newTestEngine(store Store, llmClient LLM, encoder Encoder, graph Graph) *Engine {
	e := &Engine{
		config:  DefaultConfig(),
		store:   store,
		llm:     llmClient,
		encoder: encoder,
		logger:  slog.Default(),
	}
	if graph != nil {
		e.graph = graph
	}
	return e
}

const (
	coverageKey = "0f8fad5bd9cb469fa165408219d6a1f1"
	policyKey   = "7c9e6679742540de944be07fc1f90ae7"
)

const planResponse = `{
	"intent": "QA",
	"expanded_queries": ["What is the building coverage limit?", "building coverage limit amount"],
	"extracted_entities": {"coverage_types": ["Building Coverage"]}
}`

func coverageEmbedding() storage.VectorEmbedding {
	return storage.VectorEmbedding{
		ID:          1,
		DocumentID:  7,
		SectionType: sections.Coverages,
		EntityType:  "coverage",
		EntityID:    "coverages_0",
	}
}

func chunkEmbedding() storage.VectorEmbedding {
	return storage.VectorEmbedding{
		ID:          2,
		DocumentID:  7,
		SectionType: sections.Coverages,
		EntityType:  sections.EntityTypeChunk,
		EntityID:    "doc_7_p3_c0",
	}
}

func queryFixtureStore() *fakeStore {
	return &fakeStore{
		docs: []storage.Document{{ID: 7, Filename: "policy.pdf", PageCount: 12}},
		matchSets: [][]storage.EmbeddingMatch{
			{
				{Embedding: coverageEmbedding(), Distance: 0.2},
				{Embedding: chunkEmbedding(), Distance: 0.4},
			},
			{
				{Embedding: coverageEmbedding(), Distance: 0.1},
			},
		},
		extractions: map[extractionKey]*storage.SectionExtraction{
			{7, sections.Coverages}: {
				ID:          31,
				DocumentID:  7,
				WorkflowID:  3,
				SectionType: sections.Coverages,
				ExtractedFields: map[string]any{
					"coverages": []any{
						map[string]any{
							"coverage_name": "Building Coverage",
							"limit":         1000000.0,
							"deductible":    25000.0,
						},
					},
				},
				PageRange: storage.PageRange{Start: 3, End: 5},
			},
		},
		chunks: map[string]*storage.DocumentChunk{
			"doc_7_p3_c0": {
				ID:                   11,
				DocumentID:           7,
				StableChunkID:        "doc_7_p3_c0",
				PageNumber:           3,
				EffectiveSectionType: sections.Coverages,
				RawText:              "Building limit is one million dollars per occurrence.",
			},
		},
		canonicals: []storage.CanonicalEntity{
			{ID: 10, EntityType: entities.Coverage, CanonicalKey: coverageKey, Attributes: map[string]any{"name": "Building Coverage"}},
			{ID: 11, EntityType: entities.Policy, CanonicalKey: policyKey, Attributes: map[string]any{"name": "CPP-2024-001"}},
		},
		citations: []storage.Citation{{
			DocumentID:           7,
			SourceType:           "section_entity",
			SourceID:             "coverages_0",
			PrimaryPage:          3,
			ExtractionMethod:     "tier1_exact_match",
			ExtractionConfidence: 0.98,
			VerbatimText:         "Building Coverage $1,000,000",
		}},
	}
}

func TestQueryAnswersWithGraphContext(t *testing.T) {
	store := queryFixtureStore()
	mock := &fakeLLM{responses: []string{planResponse, "The building coverage limit is $1,000,000 [1]."}}
	enc := &fakeEncoder{}
	graph := &fakeGraph{neighbors: []graphstore.Neighbor{{
		SourceLabel: entities.Policy, SourceID: policyKey, SourceName: "CPP-2024-001",
		Type: relations.HasCoverage, Confidence: 0.9,
		TargetLabel: entities.Coverage, TargetID: coverageKey, TargetName: "Building Coverage",
	}}}
	e := newTestEngine(store, mock, enc, graph)

	resp, err := e.Query(context.Background(), 3, QueryRequest{Query: "What is the building coverage limit?"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if resp.Answer != "The building coverage limit is $1,000,000 [1]." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if mock.calls != 2 {
		t.Errorf("llm calls = %d, want 2 (plan and synthesis)", mock.calls)
	}
	if enc.calls != 2 || store.searchCalls != 2 {
		t.Errorf("encoder calls = %d, searches = %d, want 2 each", enc.calls, store.searchCalls)
	}

	if len(resp.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(resp.Sources))
	}
	first := resp.Sources[0]
	if first.EntityID != "coverages_0" || first.Rank != 1 || !first.FullText {
		t.Errorf("first source = %+v", first)
	}
	if first.PageStart != 3 || first.PageEnd != 5 || first.Filename != "policy.pdf" {
		t.Errorf("first source location = %+v", first)
	}
	if first.Citation == nil {
		t.Fatal("first source has no citation")
	}
	if first.Citation.PageNumber != 3 || first.Citation.Method != "tier1_exact_match" {
		t.Errorf("citation = %+v", first.Citation)
	}
	if resp.Sources[1].EntityID != "doc_7_p3_c0" || resp.Sources[1].Citation != nil {
		t.Errorf("second source = %+v", resp.Sources[1])
	}
	if len(store.citationIDs) != 2 {
		t.Errorf("citation lookup ids = %v, want one batch of 2", store.citationIDs)
	}

	meta := resp.Metadata
	if meta.Intent != IntentQA || meta.TraversalDepth != 1 {
		t.Errorf("metadata intent = %s depth = %d", meta.Intent, meta.TraversalDepth)
	}
	if meta.VectorResultsCount != 2 || meta.GraphResultsCount != 1 || meta.MergedResultsCount != 3 {
		t.Errorf("result counts = %+v", meta)
	}
	if meta.FullTextCount != 2 || meta.SummaryCount != 0 {
		t.Errorf("context counts = %+v", meta)
	}
	if !meta.GraphAvailable || meta.FallbackMode {
		t.Errorf("graph flags = %+v", meta)
	}
	if meta.TotalContextTokens <= 0 {
		t.Errorf("total context tokens = %d", meta.TotalContextTokens)
	}
	for _, stage := range []string{"plan", "retrieve", "rerank", "resolve", "expand", "assemble", "respond"} {
		if _, ok := meta.StageLatencies[stage]; !ok {
			t.Errorf("missing stage latency %q", stage)
		}
	}

	if graph.calls != 1 || graph.lastDepth != 1 {
		t.Errorf("graph expand calls = %d depth = %d", graph.calls, graph.lastDepth)
	}
	if len(graph.lastSeeds) != 1 || graph.lastSeeds[0] != coverageKey {
		t.Errorf("graph seeds = %v", graph.lastSeeds)
	}

	synthesis := mock.requests[1].Messages[1].Content
	if !strings.Contains(synthesis, "Coverage: Building Coverage.") {
		t.Errorf("synthesis context missing resolved text:\n%s", synthesis)
	}
	if !strings.Contains(synthesis, "HAS_COVERAGE") {
		t.Errorf("synthesis context missing graph edge:\n%s", synthesis)
	}
	if !strings.Contains(synthesis, "What is the building coverage limit?") {
		t.Errorf("synthesis context missing question:\n%s", synthesis)
	}
}

func TestQueryGeneralShortCircuits(t *testing.T) {
	store := queryFixtureStore()
	mock := &fakeLLM{}
	enc := &fakeEncoder{}
	e := newTestEngine(store, mock, enc, nil)

	resp, err := e.Query(context.Background(), 3, QueryRequest{Query: "thanks!", IntentOverride: "GENERAL"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if resp.Answer != generalReply {
		t.Errorf("answer = %q", resp.Answer)
	}
	if mock.calls != 0 || enc.calls != 0 || store.searchCalls != 0 {
		t.Errorf("general query touched the pipeline: llm=%d enc=%d search=%d", mock.calls, enc.calls, store.searchCalls)
	}
	if resp.Metadata.Intent != IntentGeneral || len(resp.Sources) != 0 {
		t.Errorf("general response = %+v", resp.Metadata)
	}
}

func TestQueryExpandsThroughRelationalStoreWithoutGraph(t *testing.T) {
	store := queryFixtureStore()
	wf := int64(3)
	store.rels = []storage.EntityRelationship{{
		ID: 40, SourceEntityID: 11, TargetEntityID: 10,
		RelationshipType: relations.HasCoverage, Confidence: 0.85, WorkflowID: &wf,
	}}
	mock := &fakeLLM{responses: []string{planResponse, "Answer [1]."}}
	e := newTestEngine(store, mock, &fakeEncoder{}, nil)

	resp, err := e.Query(context.Background(), 3, QueryRequest{Query: "What is the building coverage limit?"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	meta := resp.Metadata
	if meta.GraphAvailable {
		t.Error("graph reported available with no graph store")
	}
	if meta.FallbackMode {
		t.Error("relational expansion flagged as fallback mode")
	}
	if meta.GraphResultsCount != 1 {
		t.Errorf("graph results = %d, want 1", meta.GraphResultsCount)
	}
	if len(store.traverseSeeds) != 1 || store.traverseSeeds[0] != 10 {
		t.Errorf("traversal seeds = %v", store.traverseSeeds)
	}
}

func TestQueryFallsBackVectorOnly(t *testing.T) {
	store := queryFixtureStore()
	store.traverseErr = errors.New("deadlock detected")
	mock := &fakeLLM{responses: []string{planResponse, "Vector-only answer [1]."}}
	graph := &fakeGraph{err: errors.New("neo4j unavailable")}
	e := newTestEngine(store, mock, &fakeEncoder{}, graph)

	resp, err := e.Query(context.Background(), 3, QueryRequest{Query: "What is the building coverage limit?"})
	if err != nil {
		t.Fatalf("Query() error = %v, expansion failures must not fail the query", err)
	}

	meta := resp.Metadata
	if meta.GraphAvailable || !meta.FallbackMode {
		t.Errorf("graph flags = available %v fallback %v", meta.GraphAvailable, meta.FallbackMode)
	}
	if meta.GraphResultsCount != 0 {
		t.Errorf("graph results = %d, want 0", meta.GraphResultsCount)
	}
	if resp.Answer != "Vector-only answer [1]." {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestQueryWithoutMatchesSkipsSynthesis(t *testing.T) {
	store := queryFixtureStore()
	store.matchSets = nil
	mock := &fakeLLM{responses: []string{planResponse}}
	e := newTestEngine(store, mock, &fakeEncoder{}, nil)

	resp, err := e.Query(context.Background(), 3, QueryRequest{Query: "What is the fusion reactor clause?"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if resp.Answer != noContextReply {
		t.Errorf("answer = %q", resp.Answer)
	}
	if mock.calls != 1 {
		t.Errorf("llm calls = %d, want 1 (plan only)", mock.calls)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources = %d, want 0", len(resp.Sources))
	}
}

func TestQueryScopesToRequestedDocuments(t *testing.T) {
	store := queryFixtureStore()
	mock := &fakeLLM{responses: []string{planResponse, "Answer [1]."}}
	e := newTestEngine(store, mock, &fakeEncoder{}, nil)

	_, err := e.Query(context.Background(), 3, QueryRequest{Query: "limit?", DocumentIDs: []int64{7}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(store.searchFilters) == 0 || len(store.searchFilters[0].DocumentIDs) != 1 || store.searchFilters[0].DocumentIDs[0] != 7 {
		t.Errorf("search filters = %+v", store.searchFilters)
	}

	_, err = e.Query(context.Background(), 3, QueryRequest{Query: "limit?", DocumentIDs: []int64{99}})
	if !errors.Is(err, storage.ErrValidation) {
		t.Errorf("foreign document error = %v, want validation", err)
	}
}

func TestQueryValidatesInput(t *testing.T) {
	e := newTestEngine(queryFixtureStore(), &fakeLLM{}, &fakeEncoder{}, nil)

	if _, err := e.Query(context.Background(), 3, QueryRequest{Query: "   "}); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("blank query error = %v, want validation", err)
	}
}

func TestQueryPropagatesEncoderErrors(t *testing.T) {
	store := queryFixtureStore()
	mock := &fakeLLM{responses: []string{planResponse}}
	enc := &fakeEncoder{err: context.DeadlineExceeded}
	e := newTestEngine(store, mock, enc, nil)

	_, err := e.Query(context.Background(), 3, QueryRequest{Query: "What is the building coverage limit?"})
	if err == nil {
		t.Fatal("Query() succeeded despite encoder failure")
	}
	if !llm.IsTransient(err) {
		t.Errorf("encoder failure not transient: %v", err)
	}
}

func TestNewEngineValidation(t *testing.T) {
	valid := workflow.Deps{Store: &storage.Store{}, LLM: &llm.Client{}, Embedder: &embedding.Client{}}

	if _, err := NewEngine(DefaultConfig(), workflow.Deps{}); err == nil {
		t.Error("NewEngine() accepted missing store")
	}
	if _, err := NewEngine(DefaultConfig(), workflow.Deps{Store: &storage.Store{}}); err == nil {
		t.Error("NewEngine() accepted missing llm client")
	}
	if _, err := NewEngine(DefaultConfig(), workflow.Deps{Store: &storage.Store{}, LLM: &llm.Client{}}); err == nil {
		t.Error("NewEngine() accepted missing embedder")
	}
	if _, err := NewEngine(Config{}, valid); err == nil {
		t.Error("NewEngine() accepted zero config")
	}

	e, err := NewEngine(DefaultConfig(), valid)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if e.graph != nil {
		t.Error("nil graph dependency produced a non-nil interface")
	}
}
