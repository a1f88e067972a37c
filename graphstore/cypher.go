package graphstore

import (
	"fmt"

	"github.com/strataline/policygraph/vocabulary/entities"
	"github.com/strataline/policygraph/vocabulary/relations"
)

const (
	minTraversalDepth = 1
	maxTraversalDepth = 3
)

// nodeMergeQuery builds the MERGE statement for one canonical entity node.
// Labels cannot be parameterized in Cypher, so the label is validated against
// the closed entity-type vocabulary before interpolation.
func nodeMergeQuery(label string) (string, error) {
	if !entities.IsValid(label) {
		return "", fmt.Errorf("unknown entity label %q", label)
	}
	return fmt.Sprintf(`
		MERGE (n:%s {id: $id, workflow_id: $workflow_id})
		ON CREATE SET n.created_at = datetime()
		SET n += $props, n.updated_at = datetime()`, label), nil
}

// edgeMergeQuery builds the MERGE statement for one relationship. The edge
// type is sanitized and validated against the closed relationship vocabulary
// before interpolation.
func edgeMergeQuery(relType string) (string, string, error) {
	sanitized := relations.Sanitize(relType)
	if !relations.IsValid(sanitized) {
		return "", "", fmt.Errorf("relationship type %q not in vocabulary", relType)
	}
	query := fmt.Sprintf(`
		MATCH (s {id: $source_id, workflow_id: $workflow_id})
		MATCH (t {id: $target_id, workflow_id: $workflow_id})
		MERGE (s)-[r:%s {workflow_id: $workflow_id}]->(t)
		ON CREATE SET r.created_at = datetime()
		SET r.confidence = $confidence, r.evidence = $evidence, r.source = $source`, sanitized)
	return query, sanitized, nil
}

// expandQuery builds the bounded traversal statement. Variable-length bounds
// cannot be parameterized, so depth is clamped to [1, 3] and interpolated.
func expandQuery(depth int) string {
	if depth < minTraversalDepth {
		depth = minTraversalDepth
	}
	if depth > maxTraversalDepth {
		depth = maxTraversalDepth
	}
	return fmt.Sprintf(`
		MATCH (s {workflow_id: $workflow_id})
		WHERE s.id IN $seed_ids
		MATCH (s)-[rels*1..%d]-(m {workflow_id: $workflow_id})
		UNWIND rels AS rel
		WITH DISTINCT rel
		MATCH (a)-[rel]->(b)
		RETURN labels(a)[0] AS source_label, a.id AS source_id, coalesce(a.name, '') AS source_name,
			type(rel) AS rel_type, coalesce(rel.confidence, 0.0) AS confidence,
			labels(b)[0] AS target_label, b.id AS target_id, coalesce(b.name, '') AS target_name`, depth)
}

// FilterProperties reduces raw entity attributes to the approved projection
// keys for the given entity type, dropping nested and nil values. Numbers
// arrive as float64 from JSON decoding and are stored as-is.
func FilterProperties(entityType string, attrs map[string]any) map[string]any {
	props := make(map[string]any)
	for _, key := range entities.GraphProperties(entityType) {
		v, ok := attrs[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				props[key] = val
			}
		case bool, int, int64, float64:
			props[key] = val
		}
	}
	return props
}
