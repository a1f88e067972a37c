package sectionextractor

import (
	"github.com/strataline/policygraph/vocabulary/sections"
)

// knownFields lists the schema-approved top-level keys per section type.
// The section's child-list key, "entities", "confidence", and
// "additional_data" are always approved.
var knownFields = map[string][]string{
	sections.Declarations: {
		"policy_number", "policy_type", "insured_name", "carrier_name",
		"broker_name", "effective_date", "expiration_date", "total_premium",
		"named_insureds", "policy_period", "mailing_address", "description",
		"source_text",
	},
	sections.Other: {
		"summary", "description", "source_text",
	},
}

// NormalizeFields validates a section's extracted object against its schema:
// approved keys stay top-level, everything else is preserved under
// additional_data. The child list of list-based sections is coerced to a
// slice so downstream templating never sees a scalar there.
func NormalizeFields(sectionType string, raw map[string]any) map[string]any {
	if raw == nil {
		return EmptyFields(sectionType)
	}

	approved := map[string]struct{}{
		"entities":        {},
		"confidence":      {},
		"additional_data": {},
	}
	listKey, isList := sections.ListKey(sectionType)
	if isList {
		approved[listKey] = struct{}{}
	}
	for _, k := range knownFields[sectionType] {
		approved[k] = struct{}{}
	}

	out := make(map[string]any, len(raw))
	extra := map[string]any{}
	if ad, ok := raw["additional_data"].(map[string]any); ok {
		for k, v := range ad {
			extra[k] = v
		}
	}

	for k, v := range raw {
		if k == "additional_data" {
			continue
		}
		if _, ok := approved[k]; ok {
			out[k] = v
			continue
		}
		extra[k] = v
	}

	if isList {
		out[listKey] = coerceList(out[listKey])
	}
	if len(extra) > 0 {
		out["additional_data"] = extra
	}
	return out
}

// EmptyFields returns the empty-result shape for a section: an empty child
// list for list-based sections, an empty object otherwise.
func EmptyFields(sectionType string) map[string]any {
	if listKey, isList := sections.ListKey(sectionType); isList {
		return map[string]any{listKey: []any{}}
	}
	return map[string]any{}
}

// coerceList normalizes a child-list value: nil and scalars become an empty
// list, a single object becomes a one-element list.
func coerceList(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case []any:
		return t
	case map[string]any:
		return []any{t}
	default:
		return []any{}
	}
}

// SectionConfidence pulls the per-section confidence out of normalized
// fields, defaulting when the model omitted it.
func SectionConfidence(fields map[string]any) float64 {
	if c, ok := fields["confidence"].(float64); ok {
		if c < 0 {
			return 0
		}
		if c > 1 {
			return 1
		}
		return c
	}
	return 0.75
}
