package relationshipextractor

import (
	"sort"

	"github.com/strataline/policygraph/vocabulary/relations"
	"github.com/strataline/policygraph/vocabulary/sections"
)

// BatchDef names a semantic batch: a set of sections that commonly share
// relationships, the edge types expected between them, and the table types
// routed into the batch's prompt.
type BatchDef struct {
	Name          string
	Priority      int
	Sections      []string
	ExpectedTypes []string
	TableTypes    []string
}

// FallbackPriority orders single-section fallback batches after every
// semantic batch.
const FallbackPriority = 99

// SynthesisBatch tags edges found by the cross-batch synthesis pass.
const SynthesisBatch = "cross_batch_synthesis"

// semanticBatches is the fixed batch plan. A batch is included only when
// every one of its sections is present on the document.
var semanticBatches = []BatchDef{
	{
		Name:          "policy_identity",
		Priority:      1,
		Sections:      []string{sections.Declarations},
		ExpectedTypes: []string{relations.IssuedBy, relations.HasInsured, relations.BrokeredBy},
		TableTypes:    []string{sections.TablePremiumSchedule},
	},
	{
		Name:          "policy_coverage",
		Priority:      2,
		Sections:      []string{sections.Declarations, sections.Coverages},
		ExpectedTypes: []string{relations.HasCoverage},
		TableTypes:    []string{sections.TableCoverageSchedule, sections.TablePremiumSchedule},
	},
	{
		Name:          "coverage_condition",
		Priority:      3,
		Sections:      []string{sections.Coverages, sections.Conditions},
		ExpectedTypes: []string{relations.SubjectTo},
	},
	{
		Name:          "coverage_exclusion",
		Priority:      4,
		Sections:      []string{sections.Coverages, sections.Exclusions},
		ExpectedTypes: []string{relations.Excludes},
	},
	{
		Name:          "policy_location",
		Priority:      5,
		Sections:      []string{sections.Declarations, sections.SOV},
		ExpectedTypes: []string{relations.HasLocation},
		TableTypes:    []string{sections.TablePropertySOV},
	},
	{
		Name:          "policy_claim",
		Priority:      6,
		Sections:      []string{sections.Declarations, sections.LossRun},
		ExpectedTypes: []string{relations.HasClaim},
		TableTypes:    []string{sections.TableLossRun},
	},
	{
		Name:          "coverage_endorsement",
		Priority:      7,
		Sections:      []string{sections.Coverages, sections.Endorsements},
		ExpectedTypes: []string{relations.ModifiedBy},
	},
	{
		Name:          "coverage_definition",
		Priority:      8,
		Sections:      []string{sections.Coverages, sections.Definitions},
		ExpectedTypes: []string{relations.DefinedIn},
	},
}

// PlanBatches resolves the batch plan for one document: semantic batches
// whose sections are all present, then one fallback batch per section no
// included batch covers. The result is priority-ordered.
func PlanBatches(presentSections []string) []BatchDef {
	present := make(map[string]struct{}, len(presentSections))
	for _, s := range presentSections {
		present[s] = struct{}{}
	}

	var plan []BatchDef
	covered := map[string]struct{}{}
	for _, def := range semanticBatches {
		all := true
		for _, s := range def.Sections {
			if _, ok := present[s]; !ok {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		plan = append(plan, def)
		for _, s := range def.Sections {
			covered[s] = struct{}{}
		}
	}

	for _, s := range sections.All() {
		if _, ok := present[s]; !ok {
			continue
		}
		if _, ok := covered[s]; ok {
			continue
		}
		plan = append(plan, BatchDef{
			Name:          s + "_fallback",
			Priority:      FallbackPriority,
			Sections:      []string{s},
			ExpectedTypes: relations.All(),
		})
	}

	sort.SliceStable(plan, func(i, j int) bool { return plan[i].Priority < plan[j].Priority })
	return plan
}
