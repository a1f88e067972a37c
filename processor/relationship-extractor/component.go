// Package relationshipextractor implements the second half of the enriched
// stage: it extracts typed, evidence-backed edges between the workflow's
// canonical entities. A single call over a whole policy truncates and a
// chunk-by-chunk sweep sees only one side of most relationships, so sections
// are grouped into fixed semantic batches, each batch gets one LLM call, and
// a final cross-batch synthesis pass looks for edges spanning batches.
package relationshipextractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
	"github.com/strataline/policygraph/vocabulary/relations"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

// Store is the repository surface this stage needs.
type Store interface {
	GetClassification(ctx context.Context, documentID int64) (*storage.DocumentClassification, error)
	ListChunks(ctx context.Context, documentID int64) ([]storage.DocumentChunk, error)
	ListTables(ctx context.Context, documentID int64) ([]storage.DocumentTable, error)
	ListCanonicalEntitiesByWorkflow(ctx context.Context, workflowID int64) ([]storage.CanonicalEntity, error)
	GetOrCreateCanonicalEntity(ctx context.Context, entityType, canonicalKey string, base map[string]any) (*storage.CanonicalEntity, bool, error)
	AddWorkflowEntityScope(ctx context.Context, workflowID, canonicalEntityID int64) error
	UpsertRelationship(ctx context.Context, r *storage.EntityRelationship) error
	AddWorkflowRelationshipScope(ctx context.Context, workflowID, relationshipID int64) error
}

// Completer is the LLM surface this stage needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ChunkText is one chunk as presented to the model.
type ChunkText struct {
	PageNumber int
	Text       string
}

// SectionChunks is the model-facing view of one section's chunks.
type SectionChunks struct {
	SectionType string
	Chunks      []ChunkText
}

// EntityRef is one canonical entity as listed in prompts.
type EntityRef struct {
	EntityID   string
	EntityType string
	Name       string
}

// BatchView is everything one semantic batch call sees.
type BatchView struct {
	Def      BatchDef
	DocType  string
	Entities []EntityRef
	Sections []SectionChunks
	Tables   []storage.DocumentTable
}

// BatchSummary records one processed batch for the synthesis manifest.
type BatchSummary struct {
	Name     string
	Sections []string
	Edges    int
}

// EdgeSummary is one already-known edge as listed in the synthesis prompt.
type EdgeSummary struct {
	Batch    string
	SourceID string
	Type     string
	TargetID string
}

// SynthesisView is everything the cross-batch synthesis call sees.
type SynthesisView struct {
	EntitiesByType map[string][]EntityRef
	Manifest       []BatchSummary
	Existing       []EdgeSummary
}

// Component implements relationship extraction within the enriched stage.
type Component struct {
	name   string
	config Config
	store  Store
	llm    Completer
	logger *slog.Logger
}

// NewComponent creates the relationship extractor from its JSON config
// fragment.
func NewComponent(rawConfig json.RawMessage, deps workflow.Deps) (*Component, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}

	return &Component{
		name:   "relationship-extractor",
		config: config,
		store:  deps.Store,
		llm:    deps.LLM,
		logger: deps.GetLogger(),
	}, nil
}

// Name returns the stage this component serves.
func (c *Component) Name() workflow.StageName { return workflow.StageEnriched }

// relResult is the constrained JSON shape the model returns.
type relResult struct {
	Relationships []relItem   `json:"relationships"`
	NewEntities   []newEntity `json:"new_entities"`
}

type relItem struct {
	SourceEntityID string           `json:"source_entity_id"`
	TargetEntityID string           `json:"target_entity_id"`
	Type           string           `json:"type"`
	Confidence     float64          `json:"confidence"`
	Evidence       []map[string]any `json:"evidence"`
}

type newEntity struct {
	TempID     string  `json:"temp_id"`
	EntityType string  `json:"entity_type"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// discardStats counts rejected relationship candidates per reason.
type discardStats struct {
	invalidType   int
	unresolved    int
	selfLoop      int
	lowConfidence int
	noEvidence    int
}

func (d discardStats) total() int {
	return d.invalidType + d.unresolved + d.selfLoop + d.lowConfidence + d.noEvidence
}

// Run extracts one document's relationships against the workflow's canonical
// entities.
func (c *Component) Run(ctx context.Context, req workflow.StageRequest) error {
	docType := "unknown"
	classification, err := c.store.GetClassification(ctx, req.DocumentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load classification: %w", err)
	}
	if classification != nil {
		docType = classification.DocumentType
	}

	canonicals, err := c.store.ListCanonicalEntitiesByWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return fmt.Errorf("load canonical entities: %w", err)
	}
	if len(canonicals) == 0 {
		c.logger.Info("no canonical entities, skipping relationship extraction",
			"document_id", req.DocumentID, "workflow_id", req.WorkflowID)
		return nil
	}
	matcher := NewMatcher(canonicals)
	refs := entityRefs(canonicals)

	sectionChunks, err := c.loadSections(ctx, req.DocumentID)
	if err != nil {
		return err
	}
	tables, err := c.store.ListTables(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}
	tablesByType := make(map[string][]storage.DocumentTable)
	for _, t := range tables {
		tablesByType[t.TableType] = append(tablesByType[t.TableType], t)
	}

	present := make([]string, 0, len(sectionChunks))
	for _, s := range sections.All() {
		if _, ok := sectionChunks[s]; ok {
			present = append(present, s)
		}
	}
	plan := PlanBatches(present)

	set := newEdgeSet()
	var stats discardStats
	var manifest []BatchSummary
	failedBatches := 0
	newEntities := 0

	for _, def := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		view := BatchView{Def: def, DocType: docType, Entities: refs}
		for _, s := range def.Sections {
			view.Sections = append(view.Sections, sectionChunks[s])
		}
		for _, tt := range def.TableTypes {
			view.Tables = append(view.Tables, tablesByType[tt]...)
		}

		result, ok, err := c.callWithRepair(ctx, SystemPrompt(), UserPrompt(view))
		if err != nil {
			return err
		}
		if !ok {
			c.logger.Warn("batch response unparseable after repair, skipping batch",
				"document_id", req.DocumentID, "batch", def.Name)
			failedBatches++
			continue
		}

		created, found := c.absorb(ctx, req, matcher, result, def.Name, set, &stats)
		if created < 0 {
			return ctxOr(ctx, fmt.Errorf("record model-created entities: batch %s", def.Name))
		}
		newEntities += created
		manifest = append(manifest, BatchSummary{Name: def.Name, Sections: def.Sections, Edges: found})
	}

	if c.config.Synthesis && len(manifest) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		view := c.synthesisView(canonicals, manifest, set)
		result, ok, err := c.callWithRepair(ctx, SystemPrompt(), SynthesisPrompt(docType, view))
		if err != nil {
			return err
		}
		if ok {
			created, _ := c.absorb(ctx, req, matcher, result, SynthesisBatch, set, &stats)
			if created < 0 {
				return ctxOr(ctx, fmt.Errorf("record model-created entities: synthesis"))
			}
			newEntities += created
		} else {
			c.logger.Warn("synthesis response unparseable after repair, skipping synthesis",
				"document_id", req.DocumentID)
		}
	}

	persisted, err := c.persistEdges(ctx, req, set)
	if err != nil {
		return err
	}

	c.logger.Info("relationships extracted",
		"document_id", req.DocumentID,
		"workflow_id", req.WorkflowID,
		"batches", len(plan),
		"failed_batches", failedBatches,
		"relationships", persisted,
		"new_entities", newEntities,
		"discarded", stats.total())
	if stats.total() > 0 {
		c.logger.Debug("relationship discards",
			"document_id", req.DocumentID,
			"invalid_type", stats.invalidType,
			"unresolved", stats.unresolved,
			"self_loop", stats.selfLoop,
			"low_confidence", stats.lowConfidence,
			"no_evidence", stats.noEvidence)
	}
	return nil
}

// loadSections groups the document's chunks by effective section with
// per-chunk truncation.
func (c *Component) loadSections(ctx context.Context, documentID int64) (map[string]SectionChunks, error) {
	chunks, err := c.store.ListChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	out := make(map[string]SectionChunks)
	for _, ch := range chunks {
		st := ch.EffectiveSectionType
		if !sections.IsValid(st) {
			st = ch.SectionType
		}
		if !sections.IsValid(st) {
			st = sections.Other
		}
		sc := out[st]
		sc.SectionType = st
		text := strings.TrimSpace(ch.RawText)
		if len(text) > c.config.MaxCharsPerChunk {
			text = text[:c.config.MaxCharsPerChunk]
		}
		sc.Chunks = append(sc.Chunks, ChunkText{PageNumber: ch.PageNumber, Text: text})
		out[st] = sc
	}
	return out, nil
}

// callWithRepair runs one relationship call with a single repair retry.
// Transport errors propagate; the bool reports whether parsing succeeded.
func (c *Component) callWithRepair(ctx context.Context, system, user string) (relResult, bool, error) {
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	resp, err := c.complete(ctx, messages)
	if err != nil {
		return relResult{}, false, err
	}
	result, parseErr := parseRelationships(resp.Content)
	if parseErr == nil {
		return result, true, nil
	}

	messages = append(messages,
		llm.Message{Role: "assistant", Content: resp.Content},
		llm.Message{Role: "user", Content: formatCorrectionPrompt(parseErr)},
	)
	resp, err = c.complete(ctx, messages)
	if err != nil {
		return relResult{}, false, err
	}
	result, parseErr = parseRelationships(resp.Content)
	if parseErr != nil {
		return relResult{}, false, nil
	}
	return result, true, nil
}

func (c *Component) complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	temp := 0.0
	resp, err := c.llm.Complete(ctx, llm.Request{
		Capability:  c.config.Capability,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   c.config.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("relationship call: %w", err)
	}
	return resp, nil
}

func parseRelationships(content string) (relResult, error) {
	var result relResult
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &result); err != nil {
		return relResult{}, fmt.Errorf("parse relationships: %w", err)
	}
	return result, nil
}

// absorb folds one model response into the edge set: temp entities first so
// relationship references resolve, then each candidate edge through the
// validation gauntlet. Returns the count of created entities (-1 on storage
// failure) and the count of accepted edges.
func (c *Component) absorb(ctx context.Context, req workflow.StageRequest, matcher *Matcher, result relResult, batch string, set *edgeSet, stats *discardStats) (int, int) {
	created := 0
	for _, ne := range result.NewEntities {
		entityType, ok := entities.Normalize(ne.EntityType)
		if !ok || strings.TrimSpace(ne.Name) == "" || strings.TrimSpace(ne.TempID) == "" {
			c.logger.Warn("dropping malformed new entity",
				"document_id", req.DocumentID, "batch", batch,
				"temp_id", ne.TempID, "entity_type", ne.EntityType)
			continue
		}
		normalized := identity.NormalizeValue(ne.Name)
		base := map[string]any{
			"name":             ne.Name,
			"normalized_value": normalized,
			"entity_id":        identity.EntityID(entityType, normalized),
		}
		canonical, _, err := c.store.GetOrCreateCanonicalEntity(ctx,
			entityType, identity.CanonicalKey(entityType, normalized), base)
		if err != nil {
			c.logger.Error("failed to create model-reported entity",
				"document_id", req.DocumentID, "batch", batch, "name", ne.Name, "error", err)
			return -1, 0
		}
		if err := c.store.AddWorkflowEntityScope(ctx, req.WorkflowID, canonical.ID); err != nil {
			c.logger.Error("failed to scope model-reported entity",
				"document_id", req.DocumentID, "batch", batch, "name", ne.Name, "error", err)
			return -1, 0
		}
		matcher.BindTemp(ne.TempID, canonical)
		created++
	}

	found := 0
	for _, item := range result.Relationships {
		relType := relations.Sanitize(item.Type)
		if !relations.IsValid(relType) {
			c.logger.Warn("discarding relationship with invalid type",
				"document_id", req.DocumentID, "batch", batch, "type", item.Type)
			stats.invalidType++
			continue
		}
		source, ok := matcher.Resolve(item.SourceEntityID)
		if !ok {
			c.logger.Warn("discarding relationship with unresolved source",
				"document_id", req.DocumentID, "batch", batch,
				"source", item.SourceEntityID, "type", relType)
			stats.unresolved++
			continue
		}
		target, ok := matcher.Resolve(item.TargetEntityID)
		if !ok {
			c.logger.Warn("discarding relationship with unresolved target",
				"document_id", req.DocumentID, "batch", batch,
				"target", item.TargetEntityID, "type", relType)
			stats.unresolved++
			continue
		}
		if source.ID == target.ID {
			stats.selfLoop++
			continue
		}
		if item.Confidence < c.config.MinConfidence {
			c.logger.Warn("discarding low-confidence relationship",
				"document_id", req.DocumentID, "batch", batch,
				"type", relType, "confidence", item.Confidence)
			stats.lowConfidence++
			continue
		}
		evidence := validEvidence(item.Evidence)
		if len(evidence) == 0 {
			c.logger.Warn("discarding relationship without evidence",
				"document_id", req.DocumentID, "batch", batch, "type", relType)
			stats.noEvidence++
			continue
		}

		set.add(source, target, relType, item.Confidence, evidence, batch)
		found++
	}
	return created, found
}

// validEvidence keeps elements carrying a quote or a table reference.
func validEvidence(raw []map[string]any) []any {
	var out []any
	for _, ev := range raw {
		if q, ok := ev["quote"].(string); ok && strings.TrimSpace(q) != "" {
			out = append(out, ev)
			continue
		}
		for _, key := range []string{"sov_id", "claim_id", "table_id"} {
			if v, ok := ev[key]; ok && v != nil {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// synthesisView assembles the cross-batch synthesis input: entities grouped
// by type with per-type truncation, the batch manifest, and the edges found
// so far.
func (c *Component) synthesisView(canonicals []storage.CanonicalEntity, manifest []BatchSummary, set *edgeSet) SynthesisView {
	byType := make(map[string][]EntityRef)
	for i := range canonicals {
		ref := toRef(&canonicals[i])
		if len(byType[ref.EntityType]) >= c.config.SynthesisEntitiesPerType {
			continue
		}
		byType[ref.EntityType] = append(byType[ref.EntityType], ref)
	}
	return SynthesisView{
		EntitiesByType: byType,
		Manifest:       manifest,
		Existing:       set.summaries(),
	}
}

// persistEdges writes the deduplicated edge set through the store.
func (c *Component) persistEdges(ctx context.Context, req workflow.StageRequest, set *edgeSet) (int, error) {
	persisted := 0
	for _, e := range set.ordered() {
		if err := ctx.Err(); err != nil {
			return persisted, err
		}
		rel := &storage.EntityRelationship{
			SourceEntityID:   e.source.ID,
			TargetEntityID:   e.target.ID,
			RelationshipType: e.relType,
			Confidence:       e.confidence,
			Attributes: map[string]any{
				"evidence":         e.evidence,
				"extraction_batch": e.batch,
				"prompt_version":   PromptVersion,
			},
			DocumentID: &req.DocumentID,
			WorkflowID: &req.WorkflowID,
		}
		if err := c.store.UpsertRelationship(ctx, rel); err != nil {
			return persisted, fmt.Errorf("persist %s relationship: %w", e.relType, err)
		}
		if err := c.store.AddWorkflowRelationshipScope(ctx, req.WorkflowID, rel.ID); err != nil {
			return persisted, fmt.Errorf("scope %s relationship: %w", e.relType, err)
		}
		persisted++
	}
	return persisted, nil
}

func entityRefs(canonicals []storage.CanonicalEntity) []EntityRef {
	refs := make([]EntityRef, 0, len(canonicals))
	for i := range canonicals {
		refs = append(refs, toRef(&canonicals[i]))
	}
	return refs
}

func toRef(e *storage.CanonicalEntity) EntityRef {
	ref := EntityRef{EntityType: e.EntityType}
	if id, ok := e.Attributes["entity_id"].(string); ok && id != "" {
		ref.EntityID = id
	} else {
		ref.EntityID = e.CanonicalKey
	}
	if name, ok := e.Attributes["name"].(string); ok && name != "" {
		ref.Name = name
	} else if v, ok := e.Attributes["normalized_value"].(string); ok {
		ref.Name = v
	}
	return ref
}

// ctxOr prefers the context's error when it fired during a storage call.
func ctxOr(ctx context.Context, fallback error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fallback
}
