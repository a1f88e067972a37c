package entityresolver

import (
	"strings"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
	"github.com/strataline/policygraph/vocabulary/sections"
)

// Candidate is one normalized entity occurrence awaiting resolution.
type Candidate struct {
	EntityType      string
	NormalizedValue string
	RawValue        string
	Confidence      float64
	Attributes      map[string]any

	// MentionID is set when the candidate came from a persisted mention
	// row; the resolver reuses that row instead of writing a duplicate.
	MentionID           *int64
	SectionExtractionID *int64
	SourceChunkIDs      []string
}

// EntityID returns the candidate's LLM-facing identifier.
func (c Candidate) EntityID() string {
	return identity.EntityID(c.EntityType, c.NormalizedValue)
}

// candidateConfidenceDefault applies when an extraction entity carries no
// confidence of its own.
const candidateConfidenceDefault = 0.75

// Aggregate gathers mention candidates for a document, preferring persisted
// mention rows over extraction entities, and deduplicates them by entity id.
// Unknown entity types are skipped and reported in the second return.
func Aggregate(mentions []storage.EntityMention, extractions []storage.SectionExtraction) ([]Candidate, int) {
	var raw []Candidate
	skipped := 0
	if len(mentions) > 0 {
		for _, m := range mentions {
			c, ok := fromMention(m)
			if !ok {
				skipped++
				continue
			}
			raw = append(raw, c)
		}
	} else {
		for _, e := range extractions {
			cs, n := fromExtraction(e)
			raw = append(raw, cs...)
			skipped += n
		}
	}
	return dedupe(raw), skipped
}

func fromMention(m storage.EntityMention) (Candidate, bool) {
	entityType, ok := entities.Normalize(m.EntityType)
	if !ok {
		return Candidate{}, false
	}
	value := m.MentionText
	if v, ok := m.ExtractedFields["value"].(string); ok && strings.TrimSpace(v) != "" {
		value = v
	}
	normalized := identity.NormalizeValue(value)
	if normalized == "" {
		return Candidate{}, false
	}

	id := m.ID
	c := Candidate{
		EntityType:      entityType,
		NormalizedValue: normalized,
		RawValue:        value,
		Confidence:      m.Confidence,
		Attributes:      cloneAttrs(m.ExtractedFields),
		MentionID:       &id,
	}
	if m.SourceStableChunkID != nil && *m.SourceStableChunkID != "" {
		c.SourceChunkIDs = []string{*m.SourceStableChunkID}
	}
	return c, true
}

func fromExtraction(e storage.SectionExtraction) ([]Candidate, int) {
	ents, ok := e.ExtractedFields["entities"].([]any)
	if !ok {
		return nil, 0
	}

	extractionID := e.ID
	var out []Candidate
	skipped := 0
	for _, raw := range ents {
		ent, ok := raw.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		typeName, _ := ent["entity_type"].(string)
		entityType, ok := entities.Normalize(typeName)
		if !ok {
			skipped++
			continue
		}
		value, _ := ent["value"].(string)
		normalized := identity.NormalizeValue(value)
		if normalized == "" {
			skipped++
			continue
		}

		confidence := candidateConfidenceDefault
		if cf, ok := ent["confidence"].(float64); ok {
			confidence = cf
		}

		attrs := map[string]any{}
		if nested, ok := ent["attributes"].(map[string]any); ok {
			for k, v := range nested {
				attrs[k] = v
			}
		}
		for k, v := range ent {
			switch k {
			case "entity_type", "value", "confidence", "attributes":
				continue
			}
			if _, taken := attrs[k]; !taken {
				attrs[k] = v
			}
		}

		out = append(out, Candidate{
			EntityType:          entityType,
			NormalizedValue:     normalized,
			RawValue:            value,
			Confidence:          confidence,
			Attributes:          attrs,
			SectionExtractionID: &extractionID,
			SourceChunkIDs:      append([]string(nil), e.SourceChunks.StableChunkIDs...),
		})
	}
	return out, skipped
}

// dedupe groups candidates by entity id, keeping the highest-confidence
// candidate of each group and unioning source chunk ids. Input order is
// preserved for the survivors.
func dedupe(cands []Candidate) []Candidate {
	index := make(map[string]int, len(cands))
	var out []Candidate
	for _, c := range cands {
		id := c.EntityID()
		at, seen := index[id]
		if !seen {
			index[id] = len(out)
			out = append(out, c)
			continue
		}
		kept := &out[at]
		kept.SourceChunkIDs = unionStrings(kept.SourceChunkIDs, c.SourceChunkIDs)
		if c.Confidence > kept.Confidence {
			chunks := kept.SourceChunkIDs
			*kept = c
			kept.SourceChunkIDs = chunks
		}
	}
	return out
}

// richContext indexes extraction records by entity id and by name so
// resolved entities can absorb descriptions and quotes from the section
// outputs.
type richContext struct {
	byEntityID map[string]map[string]any
	byName     map[string]map[string]any
}

// buildRichContext walks the latest extraction per section and indexes its
// child records. Records without a usable name are ignored.
func buildRichContext(extractions []storage.SectionExtraction) *richContext {
	rc := &richContext{
		byEntityID: map[string]map[string]any{},
		byName:     map[string]map[string]any{},
	}
	for _, e := range extractions {
		listKey, isList := sections.ListKey(e.SectionType)
		if !isList {
			continue
		}
		items, ok := e.ExtractedFields[listKey].([]any)
		if !ok {
			continue
		}
		entityType := recordEntityType(e.SectionType)
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name := recordName(item)
			if name == "" {
				continue
			}
			if entityType != "" {
				id := identity.EntityID(entityType, identity.NormalizeValue(name))
				if _, taken := rc.byEntityID[id]; !taken {
					rc.byEntityID[id] = item
				}
			}
			key := strings.ToLower(identity.NormalizeValue(name))
			if _, taken := rc.byName[key]; !taken {
				rc.byName[key] = item
			}
		}
	}
	return rc
}

// enrich merges description, source_text, definition_text, and other
// non-conflicting attributes from the rich context into each candidate.
// Candidates with no match are left as-is.
func (rc *richContext) enrich(cands []Candidate) {
	for i := range cands {
		c := &cands[i]
		item, ok := rc.byEntityID[c.EntityID()]
		if !ok {
			item, ok = rc.byName[strings.ToLower(c.NormalizedValue)]
		}
		if !ok {
			continue
		}

		incoming := map[string]any{}
		for k, v := range item {
			switch k {
			case "entities", "confidence":
				continue
			}
			incoming[k] = v
		}
		merged, _ := storage.MergeAttributes(c.Attributes, incoming)
		c.Attributes = merged
	}
}

// recordEntityType maps a section to the canonical type of its records.
func recordEntityType(sectionType string) string {
	t, _ := entities.Normalize(sections.EntityType(sectionType))
	return t
}

// recordName pulls the best human-readable name out of an extraction record.
func recordName(item map[string]any) string {
	for _, key := range []string{"coverage_name", "title", "term", "name", "address", "claim_number"} {
		if v, ok := item[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func cloneAttrs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range b {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
