package sectiontext

import (
	"sort"
	"strconv"
	"strings"

	"github.com/strataline/policygraph/vocabulary/sections"
)

// Entity is one indexable unit of a section extraction.
type Entity struct {
	// Suffix is the deterministic id suffix: the list index for list-based
	// sections, "main" for single-record sections. The embedding entity id
	// is "<section_type>_<suffix>".
	Suffix string

	// EntityType is the embedding entity type (coverage, exclusion, ...).
	EntityType string

	// Text is the rendered template including the trailing keyword line.
	Text string
}

// SuffixMain is the entity suffix for single-record sections.
const SuffixMain = "main"

// keywords holds the per-section trailing keyword line content.
var keywords = map[string][]string{
	sections.Declarations:    {"policy", "declarations", "insured", "carrier", "broker", "premium", "policy period", "effective date"},
	sections.Coverages:       {"coverage", "limit", "deductible", "premium", "insurance protection"},
	sections.Exclusions:      {"exclusion", "excluded", "not covered", "limitation"},
	sections.Conditions:      {"condition", "requirement", "obligation", "policy terms"},
	sections.Definitions:     {"definition", "defined term", "meaning", "policy language"},
	sections.Endorsements:    {"endorsement", "amendment", "modification", "form"},
	sections.SOV:             {"location", "property", "building", "insured value", "schedule of values"},
	sections.LossRun:         {"claim", "loss", "paid", "reserve", "incurred", "loss history"},
	sections.VehicleSchedule: {"vehicle", "auto", "schedule", "VIN"},
	sections.DriverSchedule:  {"driver", "schedule", "license"},
}

// itemRenderers template one entry of a list-based section.
var itemRenderers = map[string]func(map[string]any) string{
	sections.Coverages:       renderCoverage,
	sections.Exclusions:      renderExclusion,
	sections.Conditions:      renderCondition,
	sections.Definitions:     renderDefinition,
	sections.Endorsements:    renderEndorsement,
	sections.SOV:             renderLocation,
	sections.LossRun:         renderClaim,
	sections.VehicleSchedule: renderVehicle,
	sections.DriverSchedule:  renderDriver,
}

// Entities renders every indexable unit of a section extraction.
// List-based sections yield one entity per child-list entry; single-record
// sections yield one entity for the whole record. The returned order is
// stable and suffixes are reproducible across runs.
func Entities(sectionType string, fields map[string]any) []Entity {
	listKey, isList := sections.ListKey(sectionType)
	entityType := sections.EntityType(sectionType)

	if !isList {
		return []Entity{{
			Suffix:     SuffixMain,
			EntityType: entityType,
			Text:       Render(sectionType, fields),
		}}
	}

	items := childList(fields, listKey)
	out := make([]Entity, 0, len(items))
	for i, item := range items {
		out = append(out, Entity{
			Suffix:     strconv.Itoa(i),
			EntityType: entityType,
			Text:       renderWithKeywords(sectionType, RenderItem(sectionType, item)),
		})
	}
	return out
}

// EntityBySuffix re-renders a single entity from its id suffix.
// Used at query time to resolve an embedding back to its source text.
func EntityBySuffix(sectionType string, fields map[string]any, suffix string) (string, bool) {
	if suffix == SuffixMain {
		return Render(sectionType, fields), true
	}

	listKey, isList := sections.ListKey(sectionType)
	if !isList {
		return "", false
	}

	idx, err := strconv.Atoi(suffix)
	if err != nil || idx < 0 {
		return "", false
	}

	items := childList(fields, listKey)
	if idx >= len(items) {
		return "", false
	}
	return renderWithKeywords(sectionType, RenderItem(sectionType, items[idx])), true
}

// Render templates a whole single-record section, keyword line included.
// For list-based sections it renders a summary over the child list.
func Render(sectionType string, fields map[string]any) string {
	var body string
	switch sectionType {
	case sections.Declarations:
		body = renderDeclarations(fields)
	default:
		if listKey, isList := sections.ListKey(sectionType); isList {
			body = renderListSummary(sectionType, fields, listKey)
		} else {
			body = renderGeneric(fields)
		}
	}
	return renderWithKeywords(sectionType, body)
}

// RenderItem templates one entry of a list-based section without the
// keyword line. Unknown sections fall back to sorted key rendering.
func RenderItem(sectionType string, item map[string]any) string {
	if r, ok := itemRenderers[sectionType]; ok {
		return r(item)
	}
	return renderGeneric(item)
}

// RenderChunk builds the contextualized text for a raw document chunk:
// the section header and page anchor the content for retrieval.
func RenderChunk(sectionType string, pageNumber int, rawText string) string {
	var b strings.Builder
	b.WriteString("Section: ")
	b.WriteString(FormatText(sectionType))
	b.WriteString(". Page ")
	b.WriteString(strconv.Itoa(pageNumber))
	b.WriteString(".\n")
	b.WriteString(strings.TrimSpace(rawText))
	return b.String()
}

func renderWithKeywords(sectionType, body string) string {
	kw, ok := keywords[sectionType]
	if !ok {
		kw = []string{"insurance", "document"}
	}
	return body + "\nContext keywords: " + strings.Join(kw, ", ")
}

func renderDeclarations(f map[string]any) string {
	var b strings.Builder
	b.WriteString("Insurance policy declarations. ")
	b.WriteString("Policy number: " + FormatText(field(f, "policy_number", "policy_no")) + ". ")
	b.WriteString("Named insured: " + FormatText(field(f, "insured_name", "named_insured", "insured")) + ". ")
	b.WriteString("Carrier: " + FormatText(field(f, "carrier_name", "carrier", "insurer")) + ". ")
	b.WriteString("Broker: " + FormatText(field(f, "broker_name", "broker", "producer")) + ". ")
	b.WriteString("Policy period: " + FormatDate(field(f, "effective_date", "inception_date")) +
		" to " + FormatDate(field(f, "expiration_date", "expiry_date")) + ". ")
	b.WriteString("Total premium: " + FormatCurrency(field(f, "total_premium", "premium")) + ". ")
	b.WriteString("Policy type: " + FormatText(field(f, "policy_type", "line_of_business")) + ".")
	return b.String()
}

func renderCoverage(f map[string]any) string {
	var b strings.Builder
	b.WriteString("Coverage: " + FormatText(field(f, "coverage_name", "name")) + ". ")
	b.WriteString("Limit: " + FormatCurrency(field(f, "limit", "limit_amount")) + ". ")
	b.WriteString("Deductible: " + FormatCurrency(field(f, "deductible", "deductible_amount")) + ". ")
	b.WriteString("Premium: " + FormatCurrency(field(f, "premium")) + ".")
	appendFreeText(&b, f, "description", "source_text")
	return b.String()
}

func renderExclusion(f map[string]any) string {
	var b strings.Builder
	b.WriteString("Exclusion: " + FormatText(field(f, "exclusion_name", "name")) + ". ")
	b.WriteString("This policy does not cover: " + FormatText(field(f, "description", "source_text")) + ".")
	return b.String()
}

func renderCondition(f map[string]any) string {
	var b strings.Builder
	b.WriteString("Condition: " + FormatText(field(f, "condition_name", "name")) + ". ")
	b.WriteString(FormatText(field(f, "description", "source_text")) + ".")
	if v := field(f, "applies_to"); v != nil {
		b.WriteString(" Applies to: " + FormatText(v) + ".")
	}
	return b.String()
}

func renderDefinition(f map[string]any) string {
	var b strings.Builder
	b.WriteString("Definition: \"" + FormatText(field(f, "term", "name", "defined_term")) + "\". ")
	b.WriteString(FormatText(field(f, "definition_text", "definition", "description")) + ".")
	return b.String()
}

func renderEndorsement(f map[string]any) string {
	var b strings.Builder
	b.WriteString("Endorsement: " + FormatText(field(f, "endorsement_name", "name", "title")) + ". ")
	b.WriteString("Form number: " + FormatText(field(f, "form_number")) + ". ")
	b.WriteString("Effective: " + FormatDate(field(f, "effective_date")) + ".")
	appendFreeText(&b, f, "description", "source_text")
	if v := field(f, "modifies"); v != nil {
		b.WriteString(" Modifies: " + FormatText(v) + ".")
	}
	return b.String()
}

func renderLocation(f map[string]any) string {
	var b strings.Builder
	b.WriteString("Location " + FormatText(field(f, "location_number", "location_id")) + ": ")
	b.WriteString(FormatText(field(f, "address", "street_address")) + ", ")
	b.WriteString(FormatText(field(f, "city")) + ", ")
	b.WriteString(FormatText(field(f, "state")) + " ")
	b.WriteString(FormatText(field(f, "zip", "zip_code", "postal_code")) + ". ")
	b.WriteString("Building value: " + FormatCurrency(field(f, "building_value")) + ". ")
	b.WriteString("Contents value: " + FormatCurrency(field(f, "contents_value")) + ". ")
	b.WriteString("Total insured value: " + FormatCurrency(field(f, "total_insured_value", "tiv")) + ". ")
	b.WriteString("Occupancy: " + FormatText(field(f, "occupancy")) + ". ")
	b.WriteString("Construction: " + FormatText(field(f, "construction", "construction_type")) + ". ")
	b.WriteString("Year built: " + FormatText(field(f, "year_built")) + ".")
	return b.String()
}

func renderClaim(f map[string]any) string {
	var b strings.Builder
	b.WriteString("Claim " + FormatText(field(f, "claim_number", "claim_id")) + ": ")
	b.WriteString("Date of loss: " + FormatDate(field(f, "date_of_loss", "loss_date")) + ". ")
	b.WriteString("Status: " + FormatText(field(f, "status", "claim_status")) + ". ")
	b.WriteString("Cause: " + FormatText(field(f, "cause", "cause_of_loss", "loss_type")) + ". ")
	b.WriteString("Paid: " + FormatCurrency(field(f, "paid", "paid_amount")) + ". ")
	b.WriteString("Reserved: " + FormatCurrency(field(f, "reserved", "reserve_amount")) + ". ")
	b.WriteString("Incurred: " + FormatCurrency(field(f, "incurred", "incurred_amount")) + ".")
	appendFreeText(&b, f, "description")
	return b.String()
}

func renderVehicle(f map[string]any) string {
	var b strings.Builder
	b.WriteString("Vehicle " + FormatText(field(f, "unit_number", "unit")) + ": ")
	b.WriteString(FormatText(field(f, "year")) + " ")
	b.WriteString(FormatText(field(f, "make")) + " ")
	b.WriteString(FormatText(field(f, "model")) + ". ")
	b.WriteString("VIN: " + FormatText(field(f, "vin")) + ". ")
	b.WriteString("Value: " + FormatCurrency(field(f, "value", "stated_value")) + ".")
	return b.String()
}

func renderDriver(f map[string]any) string {
	var b strings.Builder
	b.WriteString("Driver: " + FormatText(field(f, "driver_name", "name")) + ". ")
	b.WriteString("License: " + FormatText(field(f, "license_number")) + " (" + FormatText(field(f, "license_state", "state")) + "). ")
	b.WriteString("Date of birth: " + FormatDate(field(f, "date_of_birth", "dob")) + ".")
	return b.String()
}

// renderListSummary summarizes a list-based section as a whole record:
// its entry count plus each entry's text on its own line.
func renderListSummary(sectionType string, fields map[string]any, listKey string) string {
	items := childList(fields, listKey)
	var b strings.Builder
	b.WriteString("Section " + sectionType + " with " + strconv.Itoa(len(items)) + " entries.")
	for _, item := range items {
		b.WriteString("\n" + RenderItem(sectionType, item))
	}
	return b.String()
}

// renderGeneric templates unknown structures as sorted "key: value" text.
// Sort order keeps the output byte-stable across map iteration orders.
func renderGeneric(f map[string]any) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if _, isNested := f[k].([]any); isNested {
			continue
		}
		if _, isNested := f[k].(map[string]any); isNested {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.ReplaceAll(k, "_", " ") + ": " + FormatText(f[k]) + ".")
	}
	if b.Len() == 0 {
		return Missing
	}
	return b.String()
}

// appendFreeText adds optional free text as a trailing sentence.
func appendFreeText(b *strings.Builder, f map[string]any, keys ...string) {
	v := field(f, keys...)
	if v == nil {
		return
	}
	s := FormatText(v)
	if s == Missing {
		return
	}
	b.WriteString(" " + s)
	if !strings.HasSuffix(s, ".") {
		b.WriteString(".")
	}
}

// childList extracts the child entries of a list-based section.
// Entries that are not objects are skipped.
func childList(fields map[string]any, listKey string) []map[string]any {
	raw, ok := fields[listKey].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
