// Package graphstore projects canonical entities and relationships into a
// Neo4j property graph and serves bounded traversals for retrieval. Every
// node and edge carries a workflow_id so concurrent workflows never see each
// other's subgraphs, and all writes go through MERGE so reprojection is
// idempotent.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/strataline/policygraph/vocabulary/entities"
)

// EdgeSourceExtraction marks edges written by the relationship extractor.
const EdgeSourceExtraction = "llm_extraction"

// Node is one canonical entity projected into the graph. Label is the
// canonical entity type and ID the canonical key.
type Node struct {
	Label      string
	ID         string
	WorkflowID int64
	Properties map[string]any
}

// Edge is one relationship projected into the graph. Evidence elements are
// stored as JSON strings because Neo4j properties cannot hold nested maps.
type Edge struct {
	SourceID   string
	TargetID   string
	Type       string
	WorkflowID int64
	Confidence float64
	Evidence   []string
}

// Neighbor is one directed edge discovered during expansion, with enough
// endpoint detail to render graph context without a second lookup.
type Neighbor struct {
	SourceLabel string
	SourceID    string
	SourceName  string
	Type        string
	Confidence  float64
	TargetLabel string
	TargetID    string
	TargetName  string
}

// Store wraps a long-lived Neo4j driver. Sessions are per-call; the driver
// pools connections internally.
type Store struct {
	driver neo4j.DriverWithContext
	cfg    Config
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for projection diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore connects to the graph store and verifies connectivity.
func NewStore(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph config: %w", err)
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create graph driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify graph connectivity: %w", err)
	}

	s := &Store{
		driver: driver,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureConstraints creates a composite uniqueness constraint on
// (id, workflow_id) for every canonical entity label. Idempotent.
func (s *Store) EnsureConstraints(ctx context.Context) error {
	for _, label := range entities.All() {
		stmt := fmt.Sprintf(
			`CREATE CONSTRAINT %s_identity IF NOT EXISTS FOR (n:%s) REQUIRE (n.id, n.workflow_id) IS UNIQUE`,
			strings.ToLower(label), label)
		if _, err := s.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure constraint for %s: %w", label, err)
		}
	}
	return nil
}

// ProjectNode merges one canonical entity node. Properties outside the
// approved projection set for the label must already be filtered out.
func (s *Store) ProjectNode(ctx context.Context, n Node) error {
	query, err := nodeMergeQuery(n.Label)
	if err != nil {
		return err
	}
	props := n.Properties
	if props == nil {
		props = map[string]any{}
	}
	_, err = s.run(ctx, query, map[string]any{
		"id":          n.ID,
		"workflow_id": n.WorkflowID,
		"props":       props,
	})
	if err != nil {
		return fmt.Errorf("project node %s/%s: %w", n.Label, n.ID, err)
	}
	return nil
}

// ProjectNodes merges a batch of nodes, continuing past per-node failures
// and returning the count of successful merges alongside the first error.
func (s *Store) ProjectNodes(ctx context.Context, nodes []Node) (int, error) {
	var firstErr error
	projected := 0
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return projected, err
		}
		if err := s.ProjectNode(ctx, n); err != nil {
			s.logger.Warn("node projection failed",
				"label", n.Label,
				"id", n.ID,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		projected++
	}
	return projected, firstErr
}

// ProjectEdge merges one relationship between two already-projected nodes.
// Missing endpoints make the MATCH produce no rows, which is reported as an
// error so callers can count unbound edges.
func (s *Store) ProjectEdge(ctx context.Context, e Edge) error {
	query, sanitized, err := edgeMergeQuery(e.Type)
	if err != nil {
		return err
	}
	evidence := e.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	result, err := s.run(ctx, query, map[string]any{
		"source_id":   e.SourceID,
		"target_id":   e.TargetID,
		"workflow_id": e.WorkflowID,
		"confidence":  e.Confidence,
		"evidence":    evidence,
		"source":      EdgeSourceExtraction,
	})
	if err != nil {
		return fmt.Errorf("project edge %s-[%s]->%s: %w", e.SourceID, sanitized, e.TargetID, err)
	}
	if result.Summary.Counters().RelationshipsCreated() == 0 && !result.Summary.Counters().ContainsUpdates() {
		return fmt.Errorf("project edge %s-[%s]->%s: endpoint not found", e.SourceID, sanitized, e.TargetID)
	}
	return nil
}

// ProjectEdges merges a batch of edges, continuing past per-edge failures.
func (s *Store) ProjectEdges(ctx context.Context, edges []Edge) (int, error) {
	var firstErr error
	projected := 0
	for _, e := range edges {
		if err := ctx.Err(); err != nil {
			return projected, err
		}
		if err := s.ProjectEdge(ctx, e); err != nil {
			s.logger.Warn("edge projection failed",
				"type", e.Type,
				"source", e.SourceID,
				"target", e.TargetID,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		projected++
	}
	return projected, firstErr
}

// Expand traverses outward from the seed canonical keys up to depth hops,
// bounded to the workflow's subgraph, and returns the distinct edges found.
func (s *Store) Expand(ctx context.Context, workflowID int64, seedIDs []string, depth int) ([]Neighbor, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}
	result, err := s.run(ctx, expandQuery(depth), map[string]any{
		"workflow_id": workflowID,
		"seed_ids":    seedIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("expand graph: %w", err)
	}

	neighbors := make([]Neighbor, 0, len(result.Records))
	for _, record := range result.Records {
		m := record.AsMap()
		neighbors = append(neighbors, Neighbor{
			SourceLabel: asString(m["source_label"]),
			SourceID:    asString(m["source_id"]),
			SourceName:  asString(m["source_name"]),
			Type:        asString(m["rel_type"]),
			Confidence:  asFloat(m["confidence"]),
			TargetLabel: asString(m["target_label"]),
			TargetID:    asString(m["target_id"]),
			TargetName:  asString(m["target_name"]),
		})
	}
	return neighbors, nil
}

// CountNodes returns the node count for one workflow's subgraph.
func (s *Store) CountNodes(ctx context.Context, workflowID int64) (int64, error) {
	result, err := s.run(ctx, `MATCH (n {workflow_id: $workflow_id}) RETURN count(n) AS c`,
		map[string]any{"workflow_id": workflowID})
	if err != nil {
		return 0, fmt.Errorf("count nodes: %w", err)
	}
	return singleCount(result)
}

// CountEdges returns the edge count for one workflow's subgraph.
func (s *Store) CountEdges(ctx context.Context, workflowID int64) (int64, error) {
	result, err := s.run(ctx, `MATCH ()-[r {workflow_id: $workflow_id}]->() RETURN count(r) AS c`,
		map[string]any{"workflow_id": workflowID})
	if err != nil {
		return 0, fmt.Errorf("count edges: %w", err)
	}
	return singleCount(result)
}

// DeleteWorkflow removes every node and edge belonging to one workflow.
// Used by compensation and by full reprojection.
func (s *Store) DeleteWorkflow(ctx context.Context, workflowID int64) (int64, error) {
	result, err := s.run(ctx, `MATCH (n {workflow_id: $workflow_id}) DETACH DELETE n`,
		map[string]any{"workflow_id": workflowID})
	if err != nil {
		return 0, fmt.Errorf("delete workflow graph: %w", err)
	}
	deleted := int64(result.Summary.Counters().NodesDeleted())
	s.logger.Info("workflow graph deleted",
		"workflow_id", workflowID,
		"nodes_deleted", deleted)
	return deleted, nil
}

func (s *Store) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.cfg.Database))
}

func singleCount(result *neo4j.EagerResult) (int64, error) {
	if len(result.Records) == 0 {
		return 0, fmt.Errorf("count query returned no rows")
	}
	c, ok := result.Records[0].AsMap()["c"].(int64)
	if !ok {
		return 0, fmt.Errorf("count query returned non-integer")
	}
	return c, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}
