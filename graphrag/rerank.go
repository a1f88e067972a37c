package graphrag

import (
	"sort"
	"time"

	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
)

// Boost magnitudes. Similarity stays the dominant term; boosts break ties
// between comparably similar results.
const (
	sectionBoostMajor = 0.15
	sectionBoostMid   = 0.10
	sectionBoostMinor = 0.05
	entityBoostFull   = 0.10
	entityBoostHalf   = 0.05
	recencyBoostMax   = 0.05
)

// sectionBoosts favors the sections each intent usually answers from.
// GENERAL never reaches reranking.
var sectionBoosts = map[Intent]map[string]float64{
	IntentQA: {
		sections.Declarations: sectionBoostMajor,
		sections.Coverages:    sectionBoostMajor,
		sections.Definitions:  sectionBoostMinor,
	},
	IntentAnalysis: {
		sections.Coverages:    sectionBoostMajor,
		sections.Exclusions:   sectionBoostMajor,
		sections.Conditions:   sectionBoostMid,
		sections.Endorsements: sectionBoostMid,
	},
	IntentAudit: {
		sections.LossRun:      sectionBoostMajor,
		sections.SOV:          sectionBoostMajor,
		sections.Declarations: sectionBoostMinor,
	},
}

// rerank scores every candidate and sorts descending. Ties fall back to
// embedding id so the order is stable across runs.
func (e *Engine) rerank(candidates []candidate, plan *QueryPlan, now time.Time) {
	for i := range candidates {
		c := &candidates[i]
		c.score = c.similarity +
			sectionBoost(plan.Intent, c.embedding.SectionType) +
			entityBoost(&c.embedding, plan) +
			e.recencyBoost(c.embedding.EffectiveDate, now)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].embedding.ID < candidates[j].embedding.ID
	})
}

func sectionBoost(intent Intent, sectionType string) float64 {
	return sectionBoosts[intent][sectionType]
}

// entityBoost rewards rows matching the plan's entity focus: the full boost
// for an exact type-filter match, half for coverage rows when the question
// named coverage types without filtering on them.
func entityBoost(emb *storage.VectorEmbedding, plan *QueryPlan) float64 {
	for _, t := range plan.EntityTypeFilters {
		if emb.EntityType == t {
			return entityBoostFull
		}
	}
	if emb.EntityType == sections.EntityType(sections.Coverages) && len(plan.ExtractedEntities["coverage_types"]) > 0 {
		return entityBoostHalf
	}
	return 0
}

// recencyBoost decays linearly from its maximum at zero days to nothing at
// the configured horizon. Future-dated policies count as current.
func (e *Engine) recencyBoost(effective *time.Time, now time.Time) float64 {
	if effective == nil {
		return 0
	}
	days := now.Sub(*effective).Hours() / 24
	if days < 0 {
		days = 0
	}
	horizon := float64(e.config.RecencyDecayDays)
	if days >= horizon {
		return 0
	}
	return recencyBoostMax * (1 - days/horizon)
}
