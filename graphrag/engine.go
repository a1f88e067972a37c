// Package graphrag answers natural-language questions about a workflow's
// documents. A planned retrieval runs filtered vector search over the
// semantic index, boosts and reranks the matches by intent, re-derives
// their text from the extraction rows, expands outward through the entity
// graph, and synthesizes a grounded answer from a token-budgeted context.
package graphrag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/strataline/policygraph/graphstore"
	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/metrics"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/workflow"
)

// Store is the relational surface the engine reads.
type Store interface {
	ListWorkflowDocuments(ctx context.Context, workflowID int64) ([]storage.Document, error)
	SemanticSearch(ctx context.Context, queryVec []float32, topK int, filters storage.SearchFilters, maxDistance float64) ([]storage.EmbeddingMatch, error)
	GetLatestSectionExtraction(ctx context.Context, documentID, workflowID int64, sectionType string) (*storage.SectionExtraction, error)
	GetChunkByStableID(ctx context.Context, stableChunkID string) (*storage.DocumentChunk, error)
	ListCanonicalEntitiesByWorkflow(ctx context.Context, workflowID int64) ([]storage.CanonicalEntity, error)
	TraverseRelationships(ctx context.Context, seedIDs []int64, maxDepth int, relTypes []string) ([]storage.EntityRelationship, error)
	ListCitationsBySourceIDs(ctx context.Context, sourceIDs []string) ([]storage.Citation, error)
}

// LLM is the completion surface for planning and synthesis.
type LLM interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Encoder produces query vectors.
type Encoder interface {
	EncodeOne(ctx context.Context, text string) ([]float32, error)
}

// Graph is the optional property-graph surface for expansion.
type Graph interface {
	Expand(ctx context.Context, workflowID int64, seedIDs []string, depth int) ([]graphstore.Neighbor, error)
}

// Engine runs the retrieval pipeline.
type Engine struct {
	config  Config
	store   Store
	llm     LLM
	encoder Encoder
	graph   Graph
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewEngine builds the engine from shared dependencies. The graph store is
// optional; without it, expansion traverses the relational store.
func NewEngine(config Config, deps workflow.Deps) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedding client is required")
	}

	e := &Engine{
		config:  config,
		store:   deps.Store,
		llm:     deps.LLM,
		encoder: deps.Embedder,
		logger:  deps.GetLogger(),
		metrics: deps.Metrics,
	}
	// Assign only when present so the interface stays nil rather than
	// holding a typed nil pointer.
	if deps.Graph != nil {
		e.graph = deps.Graph
	}
	return e, nil
}

// QueryRequest is one question against a workflow's corpus.
type QueryRequest struct {
	Query            string  `json:"query"`
	DocumentIDs      []int64 `json:"document_ids,omitempty"`
	IntentOverride   string  `json:"intent_override,omitempty"`
	MaxContextTokens int     `json:"max_context_tokens,omitempty"`
}

// SourceCitation is the page-anchored provenance for one source.
type SourceCitation struct {
	PageNumber   int     `json:"page_number"`
	Method       string  `json:"method"`
	Confidence   float64 `json:"confidence"`
	VerbatimText string  `json:"verbatim_text,omitempty"`
}

// Source describes one context block behind the answer.
type Source struct {
	Rank        int             `json:"rank"`
	DocumentID  int64           `json:"document_id"`
	Filename    string          `json:"filename"`
	SectionType string          `json:"section_type"`
	EntityID    string          `json:"entity_id"`
	PageStart   int             `json:"page_start,omitempty"`
	PageEnd     int             `json:"page_end,omitempty"`
	Score       float64         `json:"score"`
	FullText    bool            `json:"full_text"`
	Excerpt     string          `json:"excerpt"`
	Citation    *SourceCitation `json:"citation,omitempty"`
}

// Metadata reports how the answer was produced.
type Metadata struct {
	Intent             Intent           `json:"intent"`
	TraversalDepth     int              `json:"traversal_depth"`
	VectorResultsCount int              `json:"vector_results_count"`
	GraphResultsCount  int              `json:"graph_results_count"`
	MergedResultsCount int              `json:"merged_results_count"`
	FullTextCount      int              `json:"full_text_count"`
	SummaryCount       int              `json:"summary_count"`
	TotalContextTokens int              `json:"total_context_tokens"`
	SectionTokens      map[string]int   `json:"section_tokens,omitempty"`
	GraphAvailable     bool             `json:"graph_available"`
	FallbackMode       bool             `json:"fallback_mode"`
	LatencyMS          int64            `json:"latency_ms"`
	StageLatencies     map[string]int64 `json:"stage_latencies"`
}

// QueryResponse is the grounded answer with provenance.
type QueryResponse struct {
	Answer    string    `json:"answer"`
	Sources   []Source  `json:"sources"`
	Metadata  Metadata  `json:"metadata"`
	Timestamp time.Time `json:"timestamp"`
}

// Query runs the full pipeline for one question.
func (e *Engine) Query(ctx context.Context, workflowID int64, req QueryRequest) (_ *QueryResponse, err error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", storage.ErrValidation)
	}

	started := time.Now()
	intent := "unknown"
	defer func() {
		e.metrics.ObserveQuery(intent, err == nil, time.Since(started))
	}()

	meta := Metadata{StageLatencies: make(map[string]int64)}
	record := func(stage string, from time.Time) {
		d := time.Since(from)
		meta.StageLatencies[stage] = d.Milliseconds()
		e.metrics.ObserveQueryStage(stage, d)
	}

	docs, err := e.store.ListWorkflowDocuments(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow documents: %w", err)
	}
	docsByID := make(map[int64]storage.Document, len(docs))
	for _, d := range docs {
		docsByID[d.ID] = d
	}

	stageStart := time.Now()
	plan, err := e.plan(ctx, req, docs)
	if err != nil {
		return nil, err
	}
	record("plan", stageStart)
	meta.Intent = plan.Intent
	intent = string(plan.Intent)
	meta.TraversalDepth = plan.TraversalDepth

	if plan.Intent == IntentGeneral {
		meta.LatencyMS = time.Since(started).Milliseconds()
		return &QueryResponse{
			Answer:    generalReply,
			Sources:   []Source{},
			Metadata:  meta,
			Timestamp: time.Now().UTC(),
		}, nil
	}

	docIDs, err := scopeDocuments(req, plan, docsByID)
	if err != nil {
		return nil, err
	}

	stageStart = time.Now()
	candidates, err := e.retrieve(ctx, workflowID, plan, docIDs)
	if err != nil {
		return nil, err
	}
	record("retrieve", stageStart)
	meta.VectorResultsCount = len(candidates)

	stageStart = time.Now()
	e.rerank(candidates, plan, time.Now())
	record("rerank", stageStart)

	stageStart = time.Now()
	candidates, err = e.resolveContent(ctx, workflowID, candidates, docsByID)
	if err != nil {
		return nil, err
	}
	record("resolve", stageStart)

	stageStart = time.Now()
	var neighbors []graphstore.Neighbor
	meta.GraphAvailable = e.graph != nil
	if len(candidates) > 0 {
		canonicals, err := e.store.ListCanonicalEntitiesByWorkflow(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("load canonical entities: %w", err)
		}
		top := candidates
		if len(top) > e.config.FullTextSlots {
			top = top[:e.config.FullTextSlots]
		}
		seeds := e.seedEntities(canonicals, top, plan)
		var graphUsed, fallback bool
		neighbors, graphUsed, fallback = e.expand(ctx, workflowID, plan, seeds, canonicals)
		meta.GraphAvailable = graphUsed
		meta.FallbackMode = fallback
	}
	record("expand", stageStart)
	meta.GraphResultsCount = len(neighbors)
	meta.MergedResultsCount = len(candidates) + len(neighbors)

	stageStart = time.Now()
	budget := req.MaxContextTokens
	if budget < 100 {
		budget = e.config.MaxContextTokens
	}
	assembled := e.assemble(candidates, neighbors, budget)
	record("assemble", stageStart)
	meta.FullTextCount = assembled.fullTextCount
	meta.SummaryCount = assembled.summaryCount
	meta.TotalContextTokens = assembled.totalTokens
	meta.SectionTokens = assembled.sectionTokens

	stageStart = time.Now()
	answer := noContextReply
	if len(assembled.included) > 0 || assembled.neighborCount > 0 {
		answer, err = e.respond(ctx, req.Query, assembled.markdown)
		if err != nil {
			return nil, err
		}
	}
	record("respond", stageStart)

	sources := sourcesFromContext(assembled)
	e.attachCitations(ctx, sources)

	meta.LatencyMS = time.Since(started).Milliseconds()
	e.logger.Info("query answered",
		"workflow_id", workflowID,
		"intent", plan.Intent,
		"sources", len(sources),
		"graph_results", meta.GraphResultsCount,
		"context_tokens", meta.TotalContextTokens,
		"latency_ms", meta.LatencyMS)

	return &QueryResponse{
		Answer:    answer,
		Sources:   sources,
		Metadata:  meta,
		Timestamp: time.Now().UTC(),
	}, nil
}

// scopeDocuments narrows retrieval to the caller's documents when given,
// otherwise to the plan's targets. Explicit ids outside the workflow are a
// caller error.
func scopeDocuments(req QueryRequest, plan *QueryPlan, known map[int64]storage.Document) ([]int64, error) {
	if len(req.DocumentIDs) > 0 {
		for _, id := range req.DocumentIDs {
			if _, ok := known[id]; !ok {
				return nil, fmt.Errorf("%w: document %d is not part of this workflow", storage.ErrValidation, id)
			}
		}
		return req.DocumentIDs, nil
	}
	return plan.TargetDocumentIDs, nil
}

// sourcesFromContext turns the included context blocks into response
// sources, ranked in context order.
func sourcesFromContext(assembled assembledContext) []Source {
	sources := make([]Source, len(assembled.included))
	for i, c := range assembled.included {
		sources[i] = Source{
			Rank:        i + 1,
			DocumentID:  c.embedding.DocumentID,
			Filename:    c.filename,
			SectionType: c.embedding.SectionType,
			EntityID:    c.embedding.EntityID,
			PageStart:   c.pageStart,
			PageEnd:     c.pageEnd,
			Score:       c.score,
			FullText:    c.fullText,
			Excerpt:     summarize(c.text, summaryMaxChars),
		}
	}
	return sources
}
