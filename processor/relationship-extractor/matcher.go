package relationshipextractor

import (
	"strings"

	"github.com/strataline/policygraph/storage"
)

// Matcher binds the entity identifiers a model emits back to canonical
// rows. Models are given entity ids but return whatever survived their
// attention, so resolution degrades through six steps: canonical key, id
// attributes, type:value form, case-insensitive value equality, substring
// containment, and temp-id reconciliation.
type Matcher struct {
	byKey       map[string]*storage.CanonicalEntity
	byEntityID  map[string]*storage.CanonicalEntity
	byTypeValue map[string]*storage.CanonicalEntity
	byValue     map[string]*storage.CanonicalEntity
	temp        map[string]*storage.CanonicalEntity
	values      []valueEntry
}

type valueEntry struct {
	value  string
	entity *storage.CanonicalEntity
}

// NewMatcher indexes the workflow's canonical entities.
func NewMatcher(ents []storage.CanonicalEntity) *Matcher {
	m := &Matcher{
		byKey:       make(map[string]*storage.CanonicalEntity, len(ents)),
		byEntityID:  make(map[string]*storage.CanonicalEntity, len(ents)),
		byTypeValue: make(map[string]*storage.CanonicalEntity, len(ents)),
		byValue:     make(map[string]*storage.CanonicalEntity, len(ents)),
		temp:        map[string]*storage.CanonicalEntity{},
	}
	for i := range ents {
		m.Add(&ents[i])
	}
	return m
}

// Add indexes one canonical entity. Later additions do not displace earlier
// ones under the same key.
func (m *Matcher) Add(e *storage.CanonicalEntity) {
	setIfAbsent(m.byKey, e.CanonicalKey, e)

	for _, attrKey := range []string{"entity_id", "id"} {
		if id, ok := e.Attributes[attrKey].(string); ok && id != "" {
			setIfAbsent(m.byEntityID, strings.ToLower(id), e)
		}
	}

	value := entityValue(e)
	if value == "" {
		return
	}
	lower := strings.ToLower(value)
	setIfAbsent(m.byTypeValue, strings.ToLower(e.EntityType)+":"+lower, e)
	setIfAbsent(m.byValue, lower, e)
	m.values = append(m.values, valueEntry{value: lower, entity: e})
}

// BindTemp registers a model-created temp identifier against a canonical
// entity so later references resolve.
func (m *Matcher) BindTemp(tempID string, e *storage.CanonicalEntity) {
	m.temp[strings.ToLower(strings.TrimSpace(tempID))] = e
	m.Add(e)
}

// Resolve binds one model-emitted identifier to a canonical entity.
func (m *Matcher) Resolve(identifier string) (*storage.CanonicalEntity, bool) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return nil, false
	}
	lower := strings.ToLower(id)

	if e, ok := m.byKey[id]; ok {
		return e, true
	}
	if e, ok := m.byEntityID[lower]; ok {
		return e, true
	}
	if e, ok := m.byTypeValue[lower]; ok {
		return e, true
	}
	if e, ok := m.byValue[lower]; ok {
		return e, true
	}
	if e, ok := m.bySubstring(lower); ok {
		return e, true
	}
	if e, ok := m.temp[lower]; ok {
		return e, true
	}
	return nil, false
}

// bySubstring matches when one side contains the other. Short strings are
// excluded to keep "fire" from matching half the policy; among multiple
// hits the longest indexed value wins.
func (m *Matcher) bySubstring(lower string) (*storage.CanonicalEntity, bool) {
	if len(lower) <= 3 {
		return nil, false
	}
	var best *storage.CanonicalEntity
	bestLen := 0
	for _, entry := range m.values {
		if len(entry.value) <= 3 {
			continue
		}
		if !strings.Contains(entry.value, lower) && !strings.Contains(lower, entry.value) {
			continue
		}
		if len(entry.value) > bestLen {
			best, bestLen = entry.entity, len(entry.value)
		}
	}
	return best, best != nil
}

// entityValue is the human value a canonical entity is matched under.
func entityValue(e *storage.CanonicalEntity) string {
	for _, key := range []string{"normalized_value", "name"} {
		if v, ok := e.Attributes[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func setIfAbsent(m map[string]*storage.CanonicalEntity, key string, e *storage.CanonicalEntity) {
	if key == "" {
		return
	}
	if _, taken := m[key]; !taken {
		m[key] = e
	}
}
