// Package model picks which endpoint serves each pipeline call. Stages
// ask for a capability rather than a model name; a registry maps
// capabilities to ordered endpoint chains and tracks which endpoints are
// currently worth calling.
package model

// Capability names a class of work a model can be asked to do. Configs
// and requests use the string form.
type Capability string

const (
	// CapabilityClassification detects document types.
	CapabilityClassification Capability = "classification"

	// CapabilityExtraction pulls structured entities out of sections.
	CapabilityExtraction Capability = "extraction"

	// CapabilityRelationships links extracted entities.
	CapabilityRelationships Capability = "relationships"

	// CapabilityPlanning turns questions into retrieval plans.
	CapabilityPlanning Capability = "planning"

	// CapabilitySynthesis writes grounded answers.
	CapabilitySynthesis Capability = "synthesis"

	// CapabilityFast serves cheap low-stakes calls.
	CapabilityFast Capability = "fast"
)

// IsValid reports whether c is one of the defined capabilities.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityClassification, CapabilityExtraction, CapabilityRelationships,
		CapabilityPlanning, CapabilitySynthesis, CapabilityFast:
		return true
	}
	return false
}

func (c Capability) String() string { return string(c) }

// ParseCapability returns the Capability named by s, or "" when s is not
// a defined capability.
func ParseCapability(s string) Capability {
	if c := Capability(s); c.IsValid() {
		return c
	}
	return ""
}
