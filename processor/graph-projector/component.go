// Package graphprojector mirrors the workflow's canonical entities and
// relationships into the property graph. Projection is a cache rebuild, not
// a source of truth: the relational store stays authoritative and every
// write here is an idempotent MERGE, so a failed projection retries cleanly.
// When no graph store is configured the component is a no-op and the rest
// of the stage proceeds.
package graphprojector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/strataline/policygraph/graphstore"
	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/workflow"
)

// Store is the relational repository surface this stage needs.
type Store interface {
	ListCanonicalEntitiesByWorkflow(ctx context.Context, workflowID int64) ([]storage.CanonicalEntity, error)
	ListRelationshipsByWorkflow(ctx context.Context, workflowID int64) ([]storage.EntityRelationship, error)
	UpsertGraphSyncState(ctx context.Context, st *storage.GraphSyncState) error
}

// Graph is the projection surface this stage needs.
type Graph interface {
	EnsureConstraints(ctx context.Context) error
	ProjectNodes(ctx context.Context, nodes []graphstore.Node) (int, error)
	ProjectEdges(ctx context.Context, edges []graphstore.Edge) (int, error)
}

// Component implements the projection step of the summarized stage.
type Component struct {
	name   string
	config Config
	store  Store
	graph  Graph
	logger *slog.Logger

	constraintsOnce sync.Once
	constraintsErr  error
}

// NewComponent creates the graph projector from its JSON config fragment.
// A nil graph store is allowed and turns the component into a no-op.
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

	c := &Component{
		name:   "graph-projector",
		config: config,
		store:  deps.Store,
		logger: deps.GetLogger(),
	}
	// Assign only when present so the interface stays nil rather than
	// holding a typed nil pointer.
	if deps.Graph != nil {
		c.graph = deps.Graph
	}
	return c, nil
}

// Name returns the stage this component serves.
func (c *Component) Name() workflow.StageName { return workflow.StageSummarized }

// Run projects the workflow's subgraph.
func (c *Component) Run(ctx context.Context, req workflow.StageRequest) error {
	if c.graph == nil {
		c.logger.Info("graph projection disabled, skipping",
			"document_id", req.DocumentID, "workflow_id", req.WorkflowID)
		return nil
	}

	canonicals, err := c.store.ListCanonicalEntitiesByWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return fmt.Errorf("load canonical entities: %w", err)
	}
	if len(canonicals) == 0 {
		c.logger.Info("no canonical entities to project",
			"document_id", req.DocumentID, "workflow_id", req.WorkflowID)
		return nil
	}

	if c.config.EnsureConstraints {
		c.constraintsOnce.Do(func() {
			c.constraintsErr = c.graph.EnsureConstraints(ctx)
		})
		if c.constraintsErr != nil {
			return llm.NewTransientError(fmt.Errorf("ensure graph constraints: %w", c.constraintsErr))
		}
	}

	nodes := make([]graphstore.Node, len(canonicals))
	for i := range canonicals {
		e := &canonicals[i]
		nodes[i] = graphstore.Node{
			Label:      e.EntityType,
			ID:         e.CanonicalKey,
			WorkflowID: req.WorkflowID,
			Properties: graphstore.FilterProperties(e.EntityType, e.Attributes),
		}
	}
	projected, projErr := c.graph.ProjectNodes(ctx, nodes)
	if err := c.recordNodeSync(ctx, canonicals, projected, projErr); err != nil {
		return err
	}
	if projErr != nil {
		return llm.NewTransientError(fmt.Errorf("project nodes: %w", projErr))
	}

	edges, skipped, err := c.collectEdges(ctx, req, canonicals)
	if err != nil {
		return err
	}
	projectedEdges, err := c.graph.ProjectEdges(ctx, edges)
	if err != nil {
		return llm.NewTransientError(fmt.Errorf("project edges: %w", err))
	}

	c.logger.Info("graph projected",
		"document_id", req.DocumentID,
		"workflow_id", req.WorkflowID,
		"nodes", projected,
		"edges", projectedEdges,
		"skipped_edges", skipped)
	return nil
}

// recordNodeSync writes per-entity sync rows: everything before the failure
// point is synced, the failing entity carries the error, untouched entities
// keep their previous state for the retry.
func (c *Component) recordNodeSync(ctx context.Context, canonicals []storage.CanonicalEntity, projected int, projErr error) error {
	now := time.Now().UTC()
	for i := range canonicals {
		st := &storage.GraphSyncState{
			EntityID:     canonicals[i].ID,
			EntityType:   canonicals[i].EntityType,
			SyncStatus:   storage.SyncStatusSynced,
			LastSyncedAt: &now,
		}
		if projErr != nil {
			if i > projected {
				break
			}
			if i == projected {
				st.SyncStatus = storage.SyncStatusFailed
				st.SyncError = projErr.Error()
			}
		}
		if err := c.store.UpsertGraphSyncState(ctx, st); err != nil {
			return fmt.Errorf("record graph sync for entity %d: %w", canonicals[i].ID, err)
		}
	}
	return nil
}

// collectEdges maps relational edges onto projected node ids, dropping
// edges whose endpoints are outside the workflow's entity scope.
func (c *Component) collectEdges(ctx context.Context, req workflow.StageRequest, canonicals []storage.CanonicalEntity) ([]graphstore.Edge, int, error) {
	rels, err := c.store.ListRelationshipsByWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, 0, fmt.Errorf("load relationships: %w", err)
	}

	keys := make(map[int64]string, len(canonicals))
	for i := range canonicals {
		keys[canonicals[i].ID] = canonicals[i].CanonicalKey
	}

	edges := make([]graphstore.Edge, 0, len(rels))
	skipped := 0
	for _, r := range rels {
		sourceKey, okSource := keys[r.SourceEntityID]
		targetKey, okTarget := keys[r.TargetEntityID]
		if !okSource || !okTarget {
			c.logger.Warn("skipping edge with endpoint outside workflow scope",
				"workflow_id", req.WorkflowID,
				"relationship_id", r.ID,
				"type", r.RelationshipType)
			skipped++
			continue
		}
		edges = append(edges, graphstore.Edge{
			SourceID:   sourceKey,
			TargetID:   targetKey,
			Type:       r.RelationshipType,
			WorkflowID: req.WorkflowID,
			Confidence: r.Confidence,
			Evidence:   evidenceStrings(r.Attributes["evidence"]),
		})
	}
	return edges, skipped, nil
}

// evidenceStrings marshals evidence elements to JSON strings because graph
// properties cannot hold nested maps.
func evidenceStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			continue
		}
		out = append(out, string(b))
	}
	return out
}
