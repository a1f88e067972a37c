package relationshipextractor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/strataline/policygraph/vocabulary/relations"
)

// PromptVersion is stamped into relationship attributes for provenance.
const PromptVersion = "v2"

// relationshipSemantics is the one-line meaning of each edge type, shown to
// the model in vocabulary order.
var relationshipSemantics = map[string]string{
	relations.IssuedBy:      "policy was issued by carrier organization",
	relations.HasInsured:    "policy names this organization as an insured",
	relations.BrokeredBy:    "policy was produced by this broker organization",
	relations.HasCoverage:   "policy grants this coverage",
	relations.SubjectTo:     "coverage is constrained by this condition",
	relations.Excludes:      "coverage is carved back by this exclusion",
	relations.HasLocation:   "policy schedules this location",
	relations.HasClaim:      "policy has this loss-run claim against it",
	relations.ModifiedBy:    "coverage is amended by this endorsement",
	relations.DefinedIn:     "term used by the coverage is scoped by this definition",
	relations.RenewedAs:     "policy renews as this policy",
	relations.CancelledBy:   "policy is cancelled by this endorsement",
	relations.ReinsuredBy:   "policy is reinsured by this organization",
	relations.HasDeductible: "coverage carries this deductible",
	relations.HasLimit:      "coverage carries this limit",
}

// SystemPrompt returns the system message for relationship extraction.
func SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(`You extract relationships between insurance entities. You are given a list of known entities with stable ids, document text, and sometimes structured table rows.

Valid relationship types (use EXACTLY these, nothing else):
`)
	for _, t := range relations.All() {
		fmt.Fprintf(&sb, "- %s: %s\n", t, relationshipSemantics[t])
	}
	sb.WriteString(`
Respond with a JSON object:
{
  "relationships": [
    {"source_entity_id": "...", "target_entity_id": "...", "type": "HAS_COVERAGE",
     "confidence": 0.95, "evidence": [{"quote": "verbatim supporting text"}]}
  ],
  "new_entities": [
    {"temp_id": "temp_organization_1", "entity_type": "Organization", "name": "...", "confidence": 0.9}
  ]
}

Rules:
- source_entity_id and target_entity_id reference the provided entity ids.
- If a clearly stated entity is missing from the list, add it to new_entities
  with a temp_<type>_<n> id and reference that id in relationships.
- Every relationship MUST carry at least one evidence element: a verbatim
  quote from the provided text, or a table reference ({"sov_id": ...},
  {"claim_id": ...}, or {"table_id": ...}).
- Confidence 0.90-1.00 only when the document states the relationship
  explicitly; 0.70-0.89 when it is strongly implied. Omit anything weaker.
- Do not restate relationships listed as already known.
- Respond with the JSON object and nothing else.`)
	return sb.String()
}

// UserPrompt builds one semantic batch request.
func UserPrompt(view BatchView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document type: %s\n", view.DocType)
	fmt.Fprintf(&sb, "Batch: %s\n", view.Def.Name)
	fmt.Fprintf(&sb, "Sections in this batch: %s\n", strings.Join(view.Def.Sections, ", "))
	fmt.Fprintf(&sb, "Expected relationship types: %s\n\n", strings.Join(view.Def.ExpectedTypes, ", "))

	sb.WriteString("Known entities:\n")
	for _, e := range view.Entities {
		fmt.Fprintf(&sb, "- %s [%s] %s\n", e.EntityID, e.EntityType, e.Name)
	}
	sb.WriteString("\n")

	for _, sc := range view.Sections {
		fmt.Fprintf(&sb, "## Section: %s\n\n", sc.SectionType)
		for _, ch := range sc.Chunks {
			fmt.Fprintf(&sb, "[p%d] %s\n\n", ch.PageNumber, ch.Text)
		}
	}

	for _, t := range view.Tables {
		fmt.Fprintf(&sb, "## Table %s (%s)\n\n", t.StableTableID, t.TableType)
		if data, err := json.Marshal(t.TableJSON); err == nil {
			sb.Write(data)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

// SynthesisPrompt builds the cross-batch synthesis request: the full entity
// inventory grouped by type, what each batch already covered, and the edges
// already found. The model is asked only for edges not already present.
func SynthesisPrompt(docType string, view SynthesisView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document type: %s\n\n", docType)
	sb.WriteString("All known entities, grouped by type:\n")

	types := make([]string, 0, len(view.EntitiesByType))
	for t := range view.EntitiesByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&sb, "\n%s:\n", t)
		for _, e := range view.EntitiesByType[t] {
			fmt.Fprintf(&sb, "- %s %s\n", e.EntityID, e.Name)
		}
	}

	sb.WriteString("\nBatches already processed:\n")
	for _, b := range view.Manifest {
		fmt.Fprintf(&sb, "- %s (sections: %s): %d relationships found\n",
			b.Name, strings.Join(b.Sections, ", "), b.Edges)
	}

	sb.WriteString("\nRelationships already known (do NOT repeat these):\n")
	for _, e := range view.Existing {
		fmt.Fprintf(&sb, "- [%s] %s -%s-> %s\n", e.Batch, e.SourceID, e.Type, e.TargetID)
	}

	sb.WriteString(`
Identify relationships BETWEEN sections that the per-batch passes could not
see, citing evidence as before. Return the same JSON shape.`)
	return sb.String()
}

// formatCorrectionPrompt builds a repair message when the relationship
// response isn't valid JSON.
func formatCorrectionPrompt(err error) string {
	return fmt.Sprintf(
		"Your response could not be parsed as JSON. Error: %s\n\n"+
			"Respond with ONLY a valid JSON object of the form "+
			`{"relationships": [...], "new_entities": [...]}. No prose, no markdown fences.`,
		err.Error(),
	)
}
