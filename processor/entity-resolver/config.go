package entityresolver

import "fmt"

// Config holds configuration for the entity resolver stage.
type Config struct {
	// CoverageConfidenceFloor drops Coverage and Exclusion candidates below
	// this confidence. Other entity types are not confidence-filtered.
	CoverageConfidenceFloor float64 `json:"coverage_confidence_floor"`

	// EnrichFromSections merges description, source_text, and
	// definition_text from the section extractions into resolved entities.
	EnrichFromSections bool `json:"enrich_from_sections"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.CoverageConfidenceFloor < 0 || c.CoverageConfidenceFloor > 1 {
		return fmt.Errorf("coverage_confidence_floor must be between 0 and 1")
	}
	return nil
}

// DefaultConfig returns default configuration for the entity resolver.
func DefaultConfig() Config {
	return Config{
		CoverageConfidenceFloor: 0.85,
		EnrichFromSections:      true,
	}
}
