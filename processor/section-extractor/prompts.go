package sectionextractor

import (
	"fmt"
	"strings"
)

// PromptVersion tags persisted extractions with the prompt revision that
// produced them.
const PromptVersion = "v3"

// SystemPrompt returns the system prompt for structured section extraction.
func SystemPrompt() string {
	return `You extract structured data from commercial insurance policy sections.

You receive one or more sections, each with its chunked source text. Extract
every field and entity the text supports. Never invent values; omit fields
the text does not state.

Respond with JSON only, one object per requested section:

{
  "sections": {
    "declarations": {
      "policy_number": "CPP-2024-001",
      "insured_name": "Acme Manufacturing LLC",
      "carrier_name": "Hartford Fire Insurance Co",
      "broker_name": "Marsh USA",
      "effective_date": "2024-01-01",
      "expiration_date": "2025-01-01",
      "total_premium": 125000,
      "policy_type": "commercial property",
      "confidence": 0.95,
      "entities": [
        {"entity_type": "Policy", "value": "CPP-2024-001", "confidence": 0.98},
        {"entity_type": "Organization", "value": "Hartford Fire Insurance Co", "confidence": 0.97, "attributes": {"role": "carrier"}}
      ]
    },
    "coverages": {
      "coverages": [
        {"coverage_name": "Building", "limit": 5000000, "deductible": 25000, "premium": 42000, "source_text": "verbatim clause text", "confidence": 0.93}
      ],
      "confidence": 0.9,
      "entities": [
        {"entity_type": "Coverage", "value": "Building", "confidence": 0.93}
      ]
    }
  }
}

Section shapes:
- declarations: single object. Fields: policy_number, policy_type,
  insured_name, carrier_name, broker_name, effective_date, expiration_date,
  total_premium, named_insureds, policy_period, mailing_address.
- coverages: list under "coverages". Item fields: coverage_name, limit,
  sublimit, deductible, premium, form_number, effective_date, description,
  source_text.
- exclusions: list under "exclusions". Item fields: title, description,
  source_text, clause_reference, applies_to.
- conditions: list under "conditions". Item fields: title, description,
  source_text, clause_reference, applies_to.
- definitions: list under "definitions". Item fields: term,
  definition_text, clause_reference, source_text.
- endorsements: list under "endorsements". Item fields: title, form_number,
  effective_date, modifies, description, source_text.
- sov: list under "locations". Item fields: location_number, address, city,
  state, zip, building_value, contents_value, tiv, construction, occupancy,
  year_built, square_footage.
- loss_run: list under "claims". Item fields: claim_number, date_of_loss,
  status, cause_of_loss, paid_amount, reserved_amount, incurred_amount,
  description.
- vehicle_schedule: list under "vehicles". Item fields: vin, year, make,
  model, vehicle_type, stated_value.
- driver_schedule: list under "drivers". Item fields: name, license_number,
  license_state, date_of_birth, years_licensed.
- other: single object. Fields: summary, description, source_text.

Rules:
- Every section object must include "entities": the distinct named entities
  in that section. Valid entity_type values: Policy, Organization, Coverage,
  Exclusion, Condition, Endorsement, Location, Claim, Definition, Vehicle,
  Driver. Each entity needs entity_type, value, confidence, and optionally
  attributes.
- Dates as YYYY-MM-DD. Monetary amounts as bare numbers, no symbols.
- source_text carries a short verbatim quote supporting the item.
- confidence is 0.0-1.0 per section and per item.
- Extra facts that fit no listed field go under "additional_data".
- Respond with the JSON object and nothing else.`
}

// UserPrompt builds one extraction request covering a batch of sections.
func UserPrompt(docType string, batch []SectionChunks) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document type: %s\n\n", docType)
	sb.WriteString("Extract the following sections:\n")
	for _, sc := range batch {
		fmt.Fprintf(&sb, "- %s\n", sc.SectionType)
	}
	sb.WriteString("\n")
	for _, sc := range batch {
		fmt.Fprintf(&sb, "## Section: %s\n\n", sc.SectionType)
		for _, ch := range sc.Chunks {
			fmt.Fprintf(&sb, "[p%d] %s\n\n", ch.PageNumber, ch.Text)
		}
	}
	return sb.String()
}

// formatCorrectionPrompt builds a repair message when the extraction
// response isn't valid JSON.
func formatCorrectionPrompt(err error, sectionTypes []string) string {
	return fmt.Sprintf(
		"Your response could not be parsed as JSON. Error: %s\n\n"+
			"Respond with ONLY a valid JSON object: {\"sections\": {...}} containing "+
			"one entry for each of: %s. No prose, no markdown fences.",
		err.Error(), strings.Join(sectionTypes, ", "),
	)
}
