// Package entityresolver implements the first half of the enriched stage:
// it aggregates entity candidates from extraction output, filters low-quality
// coverage and exclusion names, and resolves each survivor to a canonical
// entity with mention and evidence rows plus workflow scope. Identity is
// deterministic, so re-running a document converges on the same canonicals
// and merges attributes monotonically instead of duplicating.
package entityresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/workflow"
)

// Store is the repository surface this stage needs.
type Store interface {
	ListEntityMentions(ctx context.Context, documentID int64) ([]storage.EntityMention, error)
	ListSectionExtractions(ctx context.Context, documentID, workflowID int64) ([]storage.SectionExtraction, error)
	CreateEntityMention(ctx context.Context, m *storage.EntityMention) error
	GetOrCreateCanonicalEntity(ctx context.Context, entityType, canonicalKey string, base map[string]any) (*storage.CanonicalEntity, bool, error)
	CreateEntityEvidence(ctx context.Context, ev *storage.EntityEvidence) error
	AddWorkflowEntityScope(ctx context.Context, workflowID, canonicalEntityID int64) error
}

// Component implements entity resolution within the enriched stage.
type Component struct {
	name   string
	config Config
	store  Store
	logger *slog.Logger
}

// NewComponent creates the entity resolver from its JSON config fragment.
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

	return &Component{
		name:   "entity-resolver",
		config: config,
		store:  deps.Store,
		logger: deps.GetLogger(),
	}, nil
}

// Name returns the stage this component serves.
func (c *Component) Name() workflow.StageName { return workflow.StageEnriched }

// Run resolves one document's entities into the canonical store.
func (c *Component) Run(ctx context.Context, req workflow.StageRequest) error {
	mentions, err := c.store.ListEntityMentions(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("load entity mentions: %w", err)
	}
	extractions, err := c.store.ListSectionExtractions(ctx, req.DocumentID, req.WorkflowID)
	if err != nil {
		return fmt.Errorf("load section extractions: %w", err)
	}

	cands, skippedTypes := Aggregate(mentions, extractions)
	if skippedTypes > 0 {
		c.logger.Warn("skipped candidates with unknown entity types",
			"document_id", req.DocumentID, "skipped", skippedTypes)
	}
	if len(cands) == 0 {
		c.logger.Info("no entity candidates to resolve",
			"document_id", req.DocumentID, "workflow_id", req.WorkflowID)
		return nil
	}

	if c.config.EnrichFromSections {
		buildRichContext(extractions).enrich(cands)
	}

	kept, stats := applyQualityFilter(cands, c.config.CoverageConfidenceFloor)
	if stats.Dropped() > 0 {
		c.logger.Info("quality filter dropped candidates",
			"document_id", req.DocumentID,
			"low_confidence", stats.LowConfidence,
			"generic_term", stats.GenericTerm,
			"section_reference", stats.SectionReference,
			"too_short", stats.TooShort)
	}

	created, merged := 0, 0
	for _, cand := range kept {
		if err := ctx.Err(); err != nil {
			return err
		}
		wasCreated, err := c.resolve(ctx, req, cand)
		if err != nil {
			return err
		}
		if wasCreated {
			created++
		} else {
			merged++
		}
	}

	c.logger.Info("entities resolved",
		"document_id", req.DocumentID,
		"workflow_id", req.WorkflowID,
		"candidates", len(cands),
		"resolved", len(kept),
		"created", created,
		"merged", merged,
		"filtered", stats.Dropped())
	return nil
}

// resolve writes one candidate through the canonical store: the canonical
// row itself, a mention (reused when the candidate came from one), the
// evidence binding, and workflow scope.
func (c *Component) resolve(ctx context.Context, req workflow.StageRequest, cand Candidate) (bool, error) {
	base := cloneAttrs(cand.Attributes)
	base["name"] = mentionText(cand)
	base["normalized_value"] = cand.NormalizedValue
	base["entity_id"] = cand.EntityID()

	canonical, created, err := c.store.GetOrCreateCanonicalEntity(ctx,
		cand.EntityType, identity.CanonicalKey(cand.EntityType, cand.NormalizedValue), base)
	if err != nil {
		return false, fmt.Errorf("resolve %s %q: %w", cand.EntityType, cand.NormalizedValue, err)
	}

	mentionID := cand.MentionID
	if mentionID == nil {
		mention := &storage.EntityMention{
			DocumentID:          req.DocumentID,
			EntityType:          cand.EntityType,
			MentionText:         mentionText(cand),
			ExtractedFields:     cand.Attributes,
			Confidence:          cand.Confidence,
			SectionExtractionID: cand.SectionExtractionID,
		}
		if len(cand.SourceChunkIDs) > 0 {
			mention.SourceStableChunkID = &cand.SourceChunkIDs[0]
		}
		if err := c.store.CreateEntityMention(ctx, mention); err != nil {
			return false, fmt.Errorf("persist mention for %s %q: %w", cand.EntityType, cand.NormalizedValue, err)
		}
		mentionID = &mention.ID
	}

	evidence := &storage.EntityEvidence{
		CanonicalEntityID: canonical.ID,
		EntityMentionID:   *mentionID,
		DocumentID:        req.DocumentID,
		Confidence:        cand.Confidence,
	}
	if err := c.store.CreateEntityEvidence(ctx, evidence); err != nil {
		return false, fmt.Errorf("persist evidence for %s %q: %w", cand.EntityType, cand.NormalizedValue, err)
	}
	if err := c.store.AddWorkflowEntityScope(ctx, req.WorkflowID, canonical.ID); err != nil {
		return false, fmt.Errorf("scope %s %q: %w", cand.EntityType, cand.NormalizedValue, err)
	}
	return created, nil
}

// mentionText prefers a human-readable name over the raw normalized value so
// evidence quotes read naturally.
func mentionText(c Candidate) string {
	for _, key := range []string{"title", "coverage_name", "term", "name"} {
		if v, ok := c.Attributes[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return c.RawValue
}
