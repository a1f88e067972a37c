package relations

import "strings"

// Core relationship types.
const (
	// IssuedBy links a policy to the issuing carrier organization.
	IssuedBy = "ISSUED_BY"

	// HasInsured links a policy to the named-insured organization.
	HasInsured = "HAS_INSURED"

	// BrokeredBy links a policy to the producing broker organization.
	BrokeredBy = "BROKERED_BY"

	// HasCoverage links a policy to a coverage it grants.
	HasCoverage = "HAS_COVERAGE"

	// SubjectTo links a coverage to a condition that constrains it.
	SubjectTo = "SUBJECT_TO"

	// Excludes links a coverage to an exclusion that carves it back.
	Excludes = "EXCLUDES"

	// HasLocation links a policy to a scheduled location.
	HasLocation = "HAS_LOCATION"

	// HasClaim links a policy to a loss-run claim.
	HasClaim = "HAS_CLAIM"

	// ModifiedBy links a coverage to an endorsement that amends it.
	ModifiedBy = "MODIFIED_BY"

	// DefinedIn links a coverage term to the definition that scopes it.
	DefinedIn = "DEFINED_IN"
)

// Extension relationship types. Rare but schema-approved.
const (
	// RenewedAs links a policy to its renewal policy.
	RenewedAs = "RENEWED_AS"

	// CancelledBy links a policy to a cancellation endorsement.
	CancelledBy = "CANCELLED_BY"

	// ReinsuredBy links a policy to a reinsuring organization.
	ReinsuredBy = "REINSURED_BY"

	// HasDeductible links a coverage to a deductible entity.
	HasDeductible = "HAS_DEDUCTIBLE"

	// HasLimit links a coverage to a limit entity.
	HasLimit = "HAS_LIMIT"
)

var valid = map[string]struct{}{
	IssuedBy:      {},
	HasInsured:    {},
	BrokeredBy:    {},
	HasCoverage:   {},
	SubjectTo:     {},
	Excludes:      {},
	HasLocation:   {},
	HasClaim:      {},
	ModifiedBy:    {},
	DefinedIn:     {},
	RenewedAs:     {},
	CancelledBy:   {},
	ReinsuredBy:   {},
	HasDeductible: {},
	HasLimit:      {},
}

// ordered preserves a stable listing order for prompts and docs.
var ordered = []string{
	IssuedBy, HasInsured, BrokeredBy, HasCoverage, SubjectTo,
	Excludes, HasLocation, HasClaim, ModifiedBy, DefinedIn,
	RenewedAs, CancelledBy, ReinsuredBy, HasDeductible, HasLimit,
}

// IsValid reports whether t (after sanitization) is in the closed vocabulary.
func IsValid(t string) bool {
	_, ok := valid[Sanitize(t)]
	return ok
}

// All returns the vocabulary in stable order.
func All() []string {
	out := make([]string, len(ordered))
	copy(out, ordered)
	return out
}

// Sanitize normalizes a raw relationship type into edge-label form:
// upper-case, with every non-alphanumeric run collapsed to a single
// underscore. "issued by" and "ISSUED_BY" sanitize identically.
func Sanitize(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	var b strings.Builder
	b.Grow(len(t))
	lastUnderscore := false
	for _, r := range t {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
