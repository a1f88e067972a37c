package relationshipextractor

import (
	"testing"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
)

func canonicalFixture(id int64, entityType, value string) storage.CanonicalEntity {
	return storage.CanonicalEntity{
		ID:           id,
		EntityType:   entityType,
		CanonicalKey: identity.CanonicalKey(entityType, value),
		Attributes: map[string]any{
			"name":             value,
			"normalized_value": value,
			"entity_id":        identity.EntityID(entityType, value),
		},
	}
}

func newTestMatcher() *Matcher {
	return NewMatcher([]storage.CanonicalEntity{
		canonicalFixture(1, entities.Policy, "CPP-2024-001"),
		canonicalFixture(2, entities.Coverage, "Building Coverage"),
		canonicalFixture(3, entities.Organization, "Acme Manufacturing LLC"),
	})
}

func TestResolveByCanonicalKey(t *testing.T) {
	m := newTestMatcher()
	e, ok := m.Resolve(identity.CanonicalKey(entities.Policy, "CPP-2024-001"))
	if !ok || e.ID != 1 {
		t.Fatalf("resolve by key: %+v, %v", e, ok)
	}
}

func TestResolveByEntityID(t *testing.T) {
	m := newTestMatcher()
	e, ok := m.Resolve(identity.EntityID(entities.Coverage, "Building Coverage"))
	if !ok || e.ID != 2 {
		t.Fatalf("resolve by entity id: %+v, %v", e, ok)
	}
}

func TestResolveByTypeValueForm(t *testing.T) {
	m := newTestMatcher()
	e, ok := m.Resolve("Policy:CPP-2024-001")
	if !ok || e.ID != 1 {
		t.Fatalf("resolve by type:value: %+v, %v", e, ok)
	}
	e, ok = m.Resolve("policy:cpp-2024-001")
	if !ok || e.ID != 1 {
		t.Fatalf("resolve should be case-insensitive: %+v, %v", e, ok)
	}
}

func TestResolveByValueEquality(t *testing.T) {
	m := newTestMatcher()
	e, ok := m.Resolve("building coverage")
	if !ok || e.ID != 2 {
		t.Fatalf("resolve by value: %+v, %v", e, ok)
	}
}

func TestResolveBySubstring(t *testing.T) {
	m := newTestMatcher()
	e, ok := m.Resolve("Acme Manufacturing")
	if !ok || e.ID != 3 {
		t.Fatalf("resolve by substring: %+v, %v", e, ok)
	}
	// Too short to trust.
	if _, ok := m.Resolve("LLC"); ok {
		t.Error("three-character identifier should not substring-match")
	}
}

func TestResolveTempID(t *testing.T) {
	m := newTestMatcher()
	created := canonicalFixture(9, entities.Organization, "Midwest Mutual")
	m.BindTemp("temp_organization_1", &created)

	e, ok := m.Resolve("TEMP_ORGANIZATION_1")
	if !ok || e.ID != 9 {
		t.Fatalf("resolve temp id: %+v, %v", e, ok)
	}
	// Bound entities join the regular indexes too.
	e, ok = m.Resolve("Midwest Mutual")
	if !ok || e.ID != 9 {
		t.Fatalf("bound entity should resolve by value: %+v, %v", e, ok)
	}
}

func TestResolveMiss(t *testing.T) {
	m := newTestMatcher()
	if _, ok := m.Resolve("completely unrelated"); ok {
		t.Error("unexpected match")
	}
	if _, ok := m.Resolve(""); ok {
		t.Error("empty identifier matched")
	}
}
