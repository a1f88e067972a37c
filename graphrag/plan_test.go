package graphrag

import (
	"context"
	"strings"
	"testing"

	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
)

func TestParseIntent(t *testing.T) {
	cases := []struct {
		in   string
		want Intent
		ok   bool
	}{
		{"QA", IntentQA, true},
		{"analysis", IntentAnalysis, true},
		{" Audit ", IntentAudit, true},
		{"GENERAL", IntentGeneral, true},
		{"refund", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseIntent(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseIntent(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestHeuristicPlanIntents(t *testing.T) {
	cases := []struct {
		query string
		want  Intent
	}{
		{"What is the wind deductible?", IntentQA},
		{"Compare the coverage gaps between these two policies", IntentAnalysis},
		{"Show the full loss run for this insured", IntentAudit},
		{"hello there", IntentGeneral},
	}
	for _, tc := range cases {
		got := heuristicPlan(tc.query)
		if got.Intent != tc.want {
			t.Errorf("heuristicPlan(%q).Intent = %s, want %s", tc.query, got.Intent, tc.want)
		}
		if len(got.ExpandedQueries) != 1 || got.ExpandedQueries[0] != tc.query {
			t.Errorf("heuristicPlan(%q).ExpandedQueries = %v", tc.query, got.ExpandedQueries)
		}
	}
}

func TestPlanParsesModelOutput(t *testing.T) {
	mock := &fakeLLM{responses: []string{`{
		"intent": "ANALYSIS",
		"expanded_queries": ["What are the exclusions?", "Which exclusions apply to property coverage?"],
		"extracted_entities": {"coverage_types": ["property"]},
		"section_type_filters": ["exclusions", "bogus_section"],
		"entity_type_filters": ["exclusion", "Widget"],
		"target_document_ids": [7, 99]
	}`}}
	e := newTestEngine(nil, mock, nil, nil)
	docs := []storage.Document{{ID: 7, Filename: "policy.pdf", PageCount: 12}}

	plan, err := e.plan(context.Background(), QueryRequest{Query: "What are the exclusions?"}, docs)
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}

	if plan.Intent != IntentAnalysis || plan.TraversalDepth != 2 {
		t.Errorf("intent = %s depth = %d", plan.Intent, plan.TraversalDepth)
	}
	if len(plan.ExpandedQueries) != 2 {
		t.Errorf("expanded queries = %v", plan.ExpandedQueries)
	}
	if len(plan.SectionTypeFilters) != 1 || plan.SectionTypeFilters[0] != sections.Exclusions {
		t.Errorf("section filters = %v", plan.SectionTypeFilters)
	}
	if len(plan.EntityTypeFilters) != 1 || plan.EntityTypeFilters[0] != "exclusion" {
		t.Errorf("entity filters = %v", plan.EntityTypeFilters)
	}
	if len(plan.TargetDocumentIDs) != 1 || plan.TargetDocumentIDs[0] != 7 {
		t.Errorf("target documents = %v", plan.TargetDocumentIDs)
	}

	prompt := mock.requests[0].Messages[1].Content
	if !strings.Contains(prompt, "id 7: policy.pdf") {
		t.Errorf("plan prompt missing document list:\n%s", prompt)
	}
}

func TestPlanPrependsOriginalQuery(t *testing.T) {
	mock := &fakeLLM{responses: []string{`{"intent": "QA", "expanded_queries": ["a rephrasing only"]}`}}
	e := newTestEngine(nil, mock, nil, nil)

	plan, err := e.plan(context.Background(), QueryRequest{Query: "What is covered?"}, nil)
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	if len(plan.ExpandedQueries) != 2 || plan.ExpandedQueries[0] != "What is covered?" {
		t.Errorf("expanded queries = %v", plan.ExpandedQueries)
	}
}

func TestPlanFallsBackOnGarbage(t *testing.T) {
	mock := &fakeLLM{responses: []string{"I cannot answer in JSON today."}}
	e := newTestEngine(nil, mock, nil, nil)

	plan, err := e.plan(context.Background(), QueryRequest{Query: "Compare the coverage gaps"}, nil)
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	if plan.Intent != IntentAnalysis || plan.TraversalDepth != 2 {
		t.Errorf("heuristic fallback plan = %+v", plan)
	}
}

func TestPlanIntentOverride(t *testing.T) {
	mock := &fakeLLM{responses: []string{`{"intent": "QA", "expanded_queries": ["q"]}`}}
	e := newTestEngine(nil, mock, nil, nil)

	plan, err := e.plan(context.Background(), QueryRequest{Query: "q", IntentOverride: "audit"}, nil)
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	if plan.Intent != IntentAudit || plan.TraversalDepth != 3 {
		t.Errorf("override plan intent = %s depth = %d", plan.Intent, plan.TraversalDepth)
	}
}

func TestPlanGeneralOverrideSkipsModel(t *testing.T) {
	mock := &fakeLLM{}
	e := newTestEngine(nil, mock, nil, nil)

	plan, err := e.plan(context.Background(), QueryRequest{Query: "thanks!", IntentOverride: "general"}, nil)
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	if plan.Intent != IntentGeneral {
		t.Errorf("intent = %s", plan.Intent)
	}
	if mock.calls != 0 {
		t.Errorf("model called %d times for a general override", mock.calls)
	}
}
