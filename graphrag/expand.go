package graphrag

import (
	"context"
	"strings"

	"github.com/strataline/policygraph/graphstore"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
	"github.com/strataline/policygraph/vocabulary/relations"
)

// expansionEntities restricts which node labels each intent follows.
// Intents absent here, QA in practice, follow every label.
var expansionEntities = map[Intent][]string{
	IntentAnalysis: {
		entities.Policy, entities.Coverage, entities.Exclusion,
		entities.Condition, entities.Endorsement, entities.Definition,
	},
	IntentAudit: {
		entities.Policy, entities.Organization, entities.Location,
		entities.Claim, entities.Coverage,
	},
}

// expansionRelations restricts which edge types each intent follows.
var expansionRelations = map[Intent][]string{
	IntentAnalysis: {
		relations.HasCoverage, relations.Excludes, relations.SubjectTo,
		relations.ModifiedBy, relations.DefinedIn, relations.HasLimit,
		relations.HasDeductible,
	},
	IntentAudit: {
		relations.HasClaim, relations.HasLocation, relations.IssuedBy,
		relations.HasInsured, relations.HasCoverage, relations.RenewedAs,
		relations.CancelledBy,
	},
}

// seedEntities picks the canonical entities grounding graph expansion:
// those whose names appear in the top results' text or in the plan's
// extracted mentions, in rank order, capped at MaxSeeds.
func (e *Engine) seedEntities(canonicals []storage.CanonicalEntity, top []candidate, plan *QueryPlan) []storage.CanonicalEntity {
	if len(canonicals) == 0 || e.config.MaxSeeds == 0 {
		return nil
	}

	type named struct {
		entity *storage.CanonicalEntity
		lower  string
	}
	// Names under three characters match everything and seed nothing useful.
	names := make([]named, 0, len(canonicals))
	for i := range canonicals {
		if n, ok := canonicals[i].Attributes["name"].(string); ok && len(n) >= 3 {
			names = append(names, named{&canonicals[i], strings.ToLower(n)})
		}
	}

	seen := make(map[int64]bool)
	var seeds []storage.CanonicalEntity
	add := func(ent *storage.CanonicalEntity) bool {
		if !seen[ent.ID] {
			seen[ent.ID] = true
			seeds = append(seeds, *ent)
		}
		return len(seeds) < e.config.MaxSeeds
	}

	for _, c := range top {
		lowerText := strings.ToLower(c.text)
		for _, n := range names {
			if strings.Contains(lowerText, n.lower) {
				if !add(n.entity) {
					return seeds
				}
			}
		}
	}
	for _, mention := range plan.extractedNames() {
		lowerMention := strings.ToLower(mention)
		for _, n := range names {
			if strings.Contains(n.lower, lowerMention) || strings.Contains(lowerMention, n.lower) {
				if !add(n.entity) {
					return seeds
				}
			}
		}
	}
	return seeds
}

// expand traverses outward from the seeds. The property graph is preferred;
// when it is absent or fails, the relational store traverses instead, and
// only when that fails too does the query proceed vector-only. The second
// return reports whether the property graph served; the third reports
// vector-only fallback.
func (e *Engine) expand(ctx context.Context, workflowID int64, plan *QueryPlan, seeds, canonicals []storage.CanonicalEntity) ([]graphstore.Neighbor, bool, bool) {
	if len(seeds) == 0 {
		return nil, e.graph != nil, false
	}

	allowedRels := expansionRelations[plan.Intent]
	allowedLabels := expansionEntities[plan.Intent]

	if e.graph != nil {
		keys := make([]string, len(seeds))
		for i := range seeds {
			keys[i] = seeds[i].CanonicalKey
		}
		neighbors, err := e.graph.Expand(ctx, workflowID, keys, plan.TraversalDepth)
		if err == nil {
			return filterNeighbors(neighbors, allowedRels, allowedLabels, e.config.MaxNeighbors), true, false
		}
		e.logger.Warn("graph expansion failed, trying relational traversal",
			"workflow_id", workflowID, "error", err)
	}

	ids := make([]int64, len(seeds))
	for i := range seeds {
		ids[i] = seeds[i].ID
	}
	rels, err := e.store.TraverseRelationships(ctx, ids, plan.TraversalDepth, allowedRels)
	if err != nil {
		e.logger.Warn("relational traversal failed, answering vector-only",
			"workflow_id", workflowID, "error", err)
		return nil, false, true
	}
	neighbors := neighborsFromRelationships(rels, canonicals)
	return filterNeighbors(neighbors, nil, allowedLabels, e.config.MaxNeighbors), false, false
}

// neighborsFromRelationships lifts relational edges into the shape graph
// expansion returns, resolving endpoints against the workflow's canonical
// entities and dropping edges that leave that scope.
func neighborsFromRelationships(rels []storage.EntityRelationship, canonicals []storage.CanonicalEntity) []graphstore.Neighbor {
	byID := make(map[int64]*storage.CanonicalEntity, len(canonicals))
	for i := range canonicals {
		byID[canonicals[i].ID] = &canonicals[i]
	}

	out := make([]graphstore.Neighbor, 0, len(rels))
	for _, r := range rels {
		src, okSource := byID[r.SourceEntityID]
		dst, okTarget := byID[r.TargetEntityID]
		if !okSource || !okTarget {
			continue
		}
		out = append(out, graphstore.Neighbor{
			SourceLabel: src.EntityType,
			SourceID:    src.CanonicalKey,
			SourceName:  entityName(src),
			Type:        r.RelationshipType,
			Confidence:  r.Confidence,
			TargetLabel: dst.EntityType,
			TargetID:    dst.CanonicalKey,
			TargetName:  entityName(dst),
		})
	}
	return out
}

// entityName prefers the display name, falling back to the canonical key so
// the edge still renders.
func entityName(e *storage.CanonicalEntity) string {
	if n, ok := e.Attributes["name"].(string); ok && n != "" {
		return n
	}
	return e.CanonicalKey
}

// filterNeighbors applies the intent allowlists and the result cap. Empty
// allowlists allow everything.
func filterNeighbors(in []graphstore.Neighbor, allowedRels, allowedLabels []string, max int) []graphstore.Neighbor {
	relSet := toSet(allowedRels)
	labelSet := toSet(allowedLabels)

	out := make([]graphstore.Neighbor, 0, len(in))
	for _, n := range in {
		if len(relSet) > 0 && !relSet[n.Type] {
			continue
		}
		if len(labelSet) > 0 && (!labelSet[n.SourceLabel] || !labelSet[n.TargetLabel]) {
			continue
		}
		out = append(out, n)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
