package graphrag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
)

// Intent classifies what the caller wants from the corpus.
type Intent string

const (
	// IntentQA is a factual lookup answered from one or two sections.
	IntentQA Intent = "QA"

	// IntentAnalysis is a comparison or evaluation across coverage terms.
	IntentAnalysis Intent = "ANALYSIS"

	// IntentAudit is a compliance or loss-history review.
	IntentAudit Intent = "AUDIT"

	// IntentGeneral is conversation without a retrieval need.
	IntentGeneral Intent = "GENERAL"
)

// intentDepths fixes the traversal depth per intent. The depth is derived
// here, never taken from the model.
var intentDepths = map[Intent]int{
	IntentQA:       1,
	IntentAnalysis: 2,
	IntentAudit:    3,
	IntentGeneral:  0,
}

// ParseIntent maps a case-insensitive name onto a known intent.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(strings.ToUpper(strings.TrimSpace(s))) {
	case IntentQA:
		return IntentQA, true
	case IntentAnalysis:
		return IntentAnalysis, true
	case IntentAudit:
		return IntentAudit, true
	case IntentGeneral:
		return IntentGeneral, true
	}
	return "", false
}

// QueryPlan is the structured output of query understanding.
type QueryPlan struct {
	Intent             Intent              `json:"intent"`
	TraversalDepth     int                 `json:"traversal_depth"`
	ExpandedQueries    []string            `json:"expanded_queries"`
	ExtractedEntities  map[string][]string `json:"extracted_entities"`
	SectionTypeFilters []string            `json:"section_type_filters"`
	EntityTypeFilters  []string            `json:"entity_type_filters"`
	TargetDocumentIDs  []int64             `json:"target_document_ids"`
}

const planSystemPrompt = `You analyze questions about insurance documents and plan their retrieval.

Intents:
- QA: a factual question answerable from specific policy sections ("What is the deductible for wind damage?").
- ANALYSIS: comparison or evaluation of coverage terms, gaps, or exclusions across sections or documents.
- AUDIT: compliance, claims-history, or schedule review against the full record.
- GENERAL: greeting or conversation that needs no document lookup.

Respond with a JSON object:
{
  "intent": "QA",
  "expanded_queries": ["two to four rephrasings of the question, each standalone"],
  "extracted_entities": {
    "policy_numbers": [], "organizations": [], "coverage_types": [],
    "locations": [], "dates": []
  },
  "section_type_filters": [],
  "entity_type_filters": [],
  "target_document_ids": []
}

Rules:
- expanded_queries always includes the original question first.
- section_type_filters only from: declarations, coverages, exclusions, conditions, definitions, endorsements, sov, loss_run, vehicle_schedule, driver_schedule.
- entity_type_filters only from: declaration, coverage, exclusion, condition, definition, endorsement, location, claim, vehicle, driver, chunk.
- target_document_ids only from the provided document list, and only when the question names a specific document.
- Leave filters empty when the question does not narrow them.
- Respond with the JSON object and nothing else.`

// planUserPrompt lists the workflow's documents so the model can target them.
func planUserPrompt(query string, docs []storage.Document) string {
	var sb strings.Builder
	sb.WriteString("Documents in this workflow:\n")
	for _, d := range docs {
		fmt.Fprintf(&sb, "- id %d: %s (%d pages)\n", d.ID, d.Filename, d.PageCount)
	}
	fmt.Fprintf(&sb, "\nQuestion: %s\n", query)
	return sb.String()
}

// plan runs query understanding. A malformed model response degrades to the
// heuristic plan rather than failing the query.
func (e *Engine) plan(ctx context.Context, req QueryRequest, docs []storage.Document) (*QueryPlan, error) {
	if override, ok := ParseIntent(req.IntentOverride); ok && override == IntentGeneral {
		return &QueryPlan{Intent: IntentGeneral, ExpandedQueries: []string{req.Query}}, nil
	}

	temp := 0.0
	resp, err := e.llm.Complete(ctx, llm.Request{
		Capability: e.config.PlanCapability,
		Messages: []llm.Message{
			{Role: "system", Content: planSystemPrompt},
			{Role: "user", Content: planUserPrompt(req.Query, docs)},
		},
		Temperature: &temp,
		MaxTokens:   600,
	})
	if err != nil {
		return nil, fmt.Errorf("plan call: %w", err)
	}

	var plan QueryPlan
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &plan); err != nil {
		e.logger.Warn("query plan unparseable, using heuristic plan", "error", err)
		plan = heuristicPlan(req.Query)
	}

	e.normalizePlan(&plan, req, docs)
	return &plan, nil
}

// normalizePlan clamps model output onto the closed vocabularies and applies
// the caller's overrides.
func (e *Engine) normalizePlan(plan *QueryPlan, req QueryRequest, docs []storage.Document) {
	if override, ok := ParseIntent(req.IntentOverride); ok {
		plan.Intent = override
	}
	if _, ok := intentDepths[plan.Intent]; !ok {
		plan.Intent = IntentQA
	}
	plan.TraversalDepth = intentDepths[plan.Intent]

	if len(plan.ExpandedQueries) == 0 {
		plan.ExpandedQueries = []string{req.Query}
	} else if !strings.EqualFold(strings.TrimSpace(plan.ExpandedQueries[0]), strings.TrimSpace(req.Query)) {
		plan.ExpandedQueries = append([]string{req.Query}, plan.ExpandedQueries...)
	}

	kept := plan.SectionTypeFilters[:0]
	for _, s := range plan.SectionTypeFilters {
		if sections.IsValid(s) {
			kept = append(kept, s)
		}
	}
	plan.SectionTypeFilters = kept

	keptEntities := plan.EntityTypeFilters[:0]
	for _, t := range plan.EntityTypeFilters {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if t == sections.EntityTypeChunk || knownEntityType(t) {
			keptEntities = append(keptEntities, t)
		}
	}
	plan.EntityTypeFilters = keptEntities

	known := make(map[int64]bool, len(docs))
	for _, d := range docs {
		known[d.ID] = true
	}
	keptDocs := plan.TargetDocumentIDs[:0]
	for _, id := range plan.TargetDocumentIDs {
		if known[id] {
			keptDocs = append(keptDocs, id)
		}
	}
	plan.TargetDocumentIDs = keptDocs
}

// knownEntityType reports whether t is the lowercase entity type of some
// section in the vocabulary.
func knownEntityType(t string) bool {
	for _, s := range sections.All() {
		if sections.EntityType(s) == t {
			return true
		}
	}
	return false
}

// heuristicPlan is the no-model fallback: keyword intent detection and the
// raw query as its own expansion.
func heuristicPlan(query string) QueryPlan {
	lower := strings.ToLower(query)
	intent := IntentQA
	switch {
	case containsAny(lower, "compare", "gap", "difference", "adequate", "versus", "analysis"):
		intent = IntentAnalysis
	case containsAny(lower, "claims history", "loss run", "loss history", "audit", "compliance", "all claims"):
		intent = IntentAudit
	case containsAny(lower, "hello", "hi there", "thanks", "thank you", "who are you"):
		intent = IntentGeneral
	}
	return QueryPlan{
		Intent:            intent,
		ExpandedQueries:   []string{query},
		ExtractedEntities: map[string][]string{},
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// extractedNames flattens the plan's entity mentions for seed matching.
func (p *QueryPlan) extractedNames() []string {
	var out []string
	for _, vals := range p.ExtractedEntities {
		for _, v := range vals {
			v = strings.TrimSpace(v)
			if v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
