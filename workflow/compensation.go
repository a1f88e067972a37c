package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/strataline/policygraph/graphstore"
	"github.com/strataline/policygraph/storage"
)

// Compensation undoes one write family for a workflow.
type Compensation struct {
	// Name identifies the write family for logging.
	Name string

	// Fn removes the workflow's contributions to the write family.
	Fn func(ctx context.Context, workflowID int64) error
}

// Compensations is an ordered rollback registry. Register in write order;
// Run executes in reverse, so later writes are undone first.
type Compensations struct {
	mu    sync.Mutex
	items []Compensation
}

// NewCompensations creates an empty compensation registry.
func NewCompensations() *Compensations {
	return &Compensations{}
}

// Register appends a compensation. Registration order must mirror write
// order.
func (c *Compensations) Register(comp Compensation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, comp)
}

// Run executes the registered compensations in reverse order. Failures are
// logged and counted; the remaining compensations still run.
func (c *Compensations) Run(ctx context.Context, workflowID int64, logger *slog.Logger) error {
	c.mu.Lock()
	items := make([]Compensation, len(c.items))
	copy(items, c.items)
	c.mu.Unlock()

	if logger == nil {
		logger = slog.Default()
	}

	failures := 0
	for i := len(items) - 1; i >= 0; i-- {
		comp := items[i]
		if err := comp.Fn(ctx, workflowID); err != nil {
			failures++
			logger.Error("compensation step failed",
				"workflow_id", workflowID,
				"step", comp.Name,
				"error", err)
			continue
		}
		logger.Info("compensation step completed",
			"workflow_id", workflowID,
			"step", comp.Name)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d compensation steps failed", failures, len(items))
	}
	return nil
}

// DefaultCompensations registers rollback for every write family the
// pipeline produces, in write order: canonical entities, relationships,
// embeddings, then graph projection. graph may be nil when projection is
// disabled.
func DefaultCompensations(store *storage.Store, graph *graphstore.Store) *Compensations {
	comps := NewCompensations()

	comps.Register(Compensation{
		Name: "canonical_entities",
		Fn: func(ctx context.Context, workflowID int64) error {
			_, err := store.DeleteWorkflowScopedEntities(ctx, workflowID)
			return err
		},
	})
	comps.Register(Compensation{
		Name: "entity_relationships",
		Fn: func(ctx context.Context, workflowID int64) error {
			_, err := store.DeleteRelationshipsByWorkflow(ctx, workflowID)
			return err
		},
	})
	comps.Register(Compensation{
		Name: "vector_embeddings",
		Fn: func(ctx context.Context, workflowID int64) error {
			docs, err := store.ListWorkflowDocuments(ctx, workflowID)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				if _, err := store.DeleteEmbeddings(ctx, doc.ID, &workflowID); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if graph != nil {
		comps.Register(Compensation{
			Name: "graph_projection",
			Fn: func(ctx context.Context, workflowID int64) error {
				_, err := graph.DeleteWorkflow(ctx, workflowID)
				return err
			},
		})
	}
	return comps
}
