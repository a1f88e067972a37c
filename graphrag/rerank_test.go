package graphrag

import (
	"math"
	"testing"
	"time"

	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
)

func TestSectionBoostTable(t *testing.T) {
	cases := []struct {
		intent  Intent
		section string
		want    float64
	}{
		{IntentQA, sections.Declarations, sectionBoostMajor},
		{IntentQA, sections.Coverages, sectionBoostMajor},
		{IntentQA, sections.LossRun, 0},
		{IntentAnalysis, sections.Exclusions, sectionBoostMajor},
		{IntentAnalysis, sections.Conditions, sectionBoostMid},
		{IntentAudit, sections.LossRun, sectionBoostMajor},
		{IntentAudit, sections.SOV, sectionBoostMajor},
		{IntentAudit, sections.Coverages, 0},
		{IntentGeneral, sections.Declarations, 0},
	}
	for _, tc := range cases {
		if got := sectionBoost(tc.intent, tc.section); got != tc.want {
			t.Errorf("sectionBoost(%s, %s) = %f, want %f", tc.intent, tc.section, got, tc.want)
		}
	}
}

func TestEntityBoost(t *testing.T) {
	coverage := &storage.VectorEmbedding{EntityType: "coverage"}
	chunk := &storage.VectorEmbedding{EntityType: sections.EntityTypeChunk}

	filtered := &QueryPlan{EntityTypeFilters: []string{"coverage"}}
	if got := entityBoost(coverage, filtered); got != entityBoostFull {
		t.Errorf("exact filter match boost = %f, want %f", got, entityBoostFull)
	}
	if got := entityBoost(chunk, filtered); got != 0 {
		t.Errorf("non-matching type boost = %f, want 0", got)
	}

	mentioned := &QueryPlan{ExtractedEntities: map[string][]string{"coverage_types": {"Building Coverage"}}}
	if got := entityBoost(coverage, mentioned); got != entityBoostHalf {
		t.Errorf("coverage mention boost = %f, want %f", got, entityBoostHalf)
	}
	if got := entityBoost(chunk, mentioned); got != 0 {
		t.Errorf("chunk with coverage mentions boost = %f, want 0", got)
	}

	if got := entityBoost(coverage, &QueryPlan{}); got != 0 {
		t.Errorf("no focus boost = %f, want 0", got)
	}
}

func TestRecencyBoost(t *testing.T) {
	e := newTestEngine(nil, nil, nil, nil)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	if got := e.recencyBoost(nil, now); got != 0 {
		t.Errorf("nil date boost = %f, want 0", got)
	}

	today := now
	if got := e.recencyBoost(&today, now); got != recencyBoostMax {
		t.Errorf("same-day boost = %f, want %f", got, recencyBoostMax)
	}

	half := now.AddDate(0, 0, -183)
	got := e.recencyBoost(&half, now)
	if math.Abs(got-recencyBoostMax/2) > 0.002 {
		t.Errorf("half-horizon boost = %f, want about %f", got, recencyBoostMax/2)
	}

	old := now.AddDate(-2, 0, 0)
	if got := e.recencyBoost(&old, now); got != 0 {
		t.Errorf("expired boost = %f, want 0", got)
	}

	future := now.AddDate(0, 1, 0)
	if got := e.recencyBoost(&future, now); got != recencyBoostMax {
		t.Errorf("future-dated boost = %f, want %f", got, recencyBoostMax)
	}
}

func TestRerankOrdersByBoostedScore(t *testing.T) {
	e := newTestEngine(nil, nil, nil, nil)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	candidates := []candidate{
		{embedding: storage.VectorEmbedding{ID: 1, SectionType: sections.LossRun}, similarity: 0.70},
		{embedding: storage.VectorEmbedding{ID: 2, SectionType: sections.Declarations}, similarity: 0.60},
		{embedding: storage.VectorEmbedding{ID: 3, SectionType: sections.Other}, similarity: 0.72},
	}
	e.rerank(candidates, &QueryPlan{Intent: IntentQA}, now)

	// Declarations gets the QA boost: 0.60 + 0.15 beats both raw scores.
	wantOrder := []int64{2, 3, 1}
	for i, want := range wantOrder {
		if candidates[i].embedding.ID != want {
			t.Fatalf("rank %d = embedding %d, want %d (scores %v)", i+1, candidates[i].embedding.ID, want,
				[]float64{candidates[0].score, candidates[1].score, candidates[2].score})
		}
	}
}

func TestRerankTieBreaksByID(t *testing.T) {
	e := newTestEngine(nil, nil, nil, nil)
	now := time.Now()

	candidates := []candidate{
		{embedding: storage.VectorEmbedding{ID: 9, SectionType: sections.Other}, similarity: 0.5},
		{embedding: storage.VectorEmbedding{ID: 4, SectionType: sections.Other}, similarity: 0.5},
	}
	e.rerank(candidates, &QueryPlan{Intent: IntentQA}, now)

	if candidates[0].embedding.ID != 4 || candidates[1].embedding.ID != 9 {
		t.Errorf("tie order = %d, %d; want 4, 9", candidates[0].embedding.ID, candidates[1].embedding.ID)
	}
}
