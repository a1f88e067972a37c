package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalKeyDeterministic(t *testing.T) {
	a := CanonicalKey("Policy", "POL-8888")
	b := CanonicalKey("Policy", "POL-8888")
	assert.Equal(t, a, b)
	assert.Len(t, a, CanonicalKeyLen)
}

func TestCanonicalKeyCaseInsensitive(t *testing.T) {
	assert.Equal(t, CanonicalKey("Policy", "POL-8888"), CanonicalKey("policy", "pol-8888"))
	assert.Equal(t, CanonicalKey("Organization", "Acme Insurance Co"), CanonicalKey("ORGANIZATION", "ACME INSURANCE CO"))
}

func TestCanonicalKeyDistinguishesValues(t *testing.T) {
	assert.NotEqual(t, CanonicalKey("Policy", "POL-8888"), CanonicalKey("Policy", "POL-8889"))
	assert.NotEqual(t, CanonicalKey("Policy", "POL-8888"), CanonicalKey("Coverage", "POL-8888"))
}

func TestCanonicalKeyKnownVector(t *testing.T) {
	// sha256("policy:pol-8888") truncated to 32 hex chars.
	got := CanonicalKey("Policy", "POL-8888")
	require.Len(t, got, 32)
	assert.Equal(t, got, CanonicalKey("POLICY", "pol-8888"))
}

func TestEntityIDShape(t *testing.T) {
	id := EntityID("Coverage", "General Liability")
	require.True(t, len(id) > EntityIDHashLen)
	assert.Equal(t, "coverage_", id[:9])
	assert.Len(t, id, len("coverage_")+EntityIDHashLen)

	// Same joined string, same id, regardless of case.
	assert.Equal(t, id, EntityID("COVERAGE", "general liability"))
}

func TestStableChunkID(t *testing.T) {
	assert.Equal(t, "doc_42_p3_c0", StableChunkID(42, 3, 0))
	assert.Equal(t, "doc_42_p3_c1", StableChunkID(42, 3, 1))
	assert.NotEqual(t, StableChunkID(42, 3, 1), StableChunkID(42, 1, 3))
}

func TestStableTableID(t *testing.T) {
	assert.Equal(t, "doc_7_p2_t0", StableTableID(7, 2, 0))
}

func TestContentHashStable(t *testing.T) {
	h1 := ContentHash("Coverage: General Liability\nLimit: $1,000,000.00")
	h2 := ContentHash("Coverage: General Liability\nLimit: $1,000,000.00")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, ContentHash("Coverage: General Liability\nLimit: $1,000,000.01"))
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "General Liability", NormalizeValue("  General   Liability "))
	assert.Equal(t, "Acme Insurance Co", NormalizeValue("Acme\tInsurance\nCo"))
	assert.Equal(t, "", NormalizeValue("   "))
}
