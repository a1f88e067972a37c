package entities

import "strings"

// Canonical entity types. One graph label per type.
const (
	Policy       = "Policy"
	Organization = "Organization"
	Coverage     = "Coverage"
	Exclusion    = "Exclusion"
	Condition    = "Condition"
	Endorsement  = "Endorsement"
	Location     = "Location"
	Claim        = "Claim"
	Definition   = "Definition"
	Vehicle      = "Vehicle"
	Driver       = "Driver"
)

var all = []string{
	Policy, Organization, Coverage, Exclusion, Condition,
	Endorsement, Location, Claim, Definition, Vehicle, Driver,
}

// baseProperties are approved for every entity type.
var baseProperties = []string{
	"name", "description", "source_text", "confidence",
}

// typeProperties extends the base set per entity type.
var typeProperties = map[string][]string{
	Policy: {
		"policy_number", "policy_type", "effective_date", "expiration_date",
		"total_premium", "carrier", "named_insured",
	},
	Organization: {
		"role", "address", "naic_number", "am_best_rating",
	},
	Coverage: {
		"coverage_name", "limit", "sublimit", "deductible", "premium",
		"form_number", "effective_date",
	},
	Exclusion: {
		"title", "clause_reference", "applies_to",
	},
	Condition: {
		"title", "clause_reference", "applies_to",
	},
	Endorsement: {
		"title", "form_number", "effective_date", "modifies",
	},
	Location: {
		"address", "city", "state", "zip", "building_number", "tiv",
		"construction", "occupancy", "year_built", "square_footage",
	},
	Claim: {
		"claim_number", "date_of_loss", "status", "cause_of_loss",
		"paid_amount", "reserved_amount", "incurred_amount",
	},
	Definition: {
		"term", "definition_text", "clause_reference",
	},
	Vehicle: {
		"vin", "year", "make", "model", "vehicle_type", "stated_value",
	},
	Driver: {
		"license_number", "license_state", "date_of_birth", "years_licensed",
	},
}

// IsValid reports whether t is a known canonical entity type. Comparison is
// exact; callers normalize capitalization before lookup.
func IsValid(t string) bool {
	for _, v := range all {
		if v == t {
			return true
		}
	}
	return false
}

// All returns the entity types in stable order.
func All() []string {
	out := make([]string, len(all))
	copy(out, all)
	return out
}

// Normalize maps a case-insensitive type name onto the canonical vocabulary.
// The second return is false for names outside it.
func Normalize(t string) (string, bool) {
	trimmed := strings.TrimSpace(t)
	for _, v := range all {
		if strings.EqualFold(v, trimmed) {
			return v, true
		}
	}
	return "", false
}

// GraphProperties returns the attribute keys approved for projection of the
// given entity type, base keys first. Unknown types get only the base keys.
func GraphProperties(entityType string) []string {
	out := make([]string, 0, len(baseProperties)+8)
	out = append(out, baseProperties...)
	out = append(out, typeProperties[entityType]...)
	return out
}
