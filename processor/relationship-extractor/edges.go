package relationshipextractor

import (
	"fmt"

	"github.com/strataline/policygraph/storage"
)

type edgeKey struct {
	source, target int64
	relType        string
}

type edge struct {
	source, target *storage.CanonicalEntity
	relType        string
	confidence     float64
	evidence       []any
	batch          string
}

// edgeSet accumulates candidate edges across batches, deduplicating by
// (source, target, type) with evidence union and max confidence. Insertion
// order is preserved for deterministic persistence.
type edgeSet struct {
	order []edgeKey
	edges map[edgeKey]*edge
}

func newEdgeSet() *edgeSet {
	return &edgeSet{edges: map[edgeKey]*edge{}}
}

func (s *edgeSet) add(source, target *storage.CanonicalEntity, relType string, confidence float64, evidence []any, batch string) {
	key := edgeKey{source: source.ID, target: target.ID, relType: relType}
	if existing, ok := s.edges[key]; ok {
		existing.evidence = unionEvidence(existing.evidence, evidence)
		if confidence > existing.confidence {
			existing.confidence = confidence
		}
		return
	}
	s.edges[key] = &edge{
		source: source, target: target, relType: relType,
		confidence: confidence, evidence: evidence, batch: batch,
	}
	s.order = append(s.order, key)
}

func (s *edgeSet) ordered() []*edge {
	out := make([]*edge, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.edges[key])
	}
	return out
}

func (s *edgeSet) summaries() []EdgeSummary {
	out := make([]EdgeSummary, 0, len(s.order))
	for _, e := range s.ordered() {
		src, tgt := toRef(e.source), toRef(e.target)
		out = append(out, EdgeSummary{
			Batch: e.batch, SourceID: src.EntityID, Type: e.relType, TargetID: tgt.EntityID,
		})
	}
	return out
}

// unionEvidence appends elements of b not already present in a, keyed the
// same way the store deduplicates on upsert: quote text first, then table
// reference.
func unionEvidence(a, b []any) []any {
	seen := make(map[string]struct{}, len(a))
	out := make([]any, 0, len(a)+len(b))
	for _, e := range a {
		seen[evidenceKey(e)] = struct{}{}
		out = append(out, e)
	}
	for _, e := range b {
		k := evidenceKey(e)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

func evidenceKey(e any) string {
	m, ok := e.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", e)
	}
	if q, ok := m["quote"].(string); ok && q != "" {
		return "q:" + q
	}
	for _, k := range []string{"sov_id", "claim_id", "table_id"} {
		if v, ok := m[k]; ok && v != nil {
			return fmt.Sprintf("%s:%v", k, v)
		}
	}
	return fmt.Sprintf("%v", m)
}
