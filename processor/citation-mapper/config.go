package citationmapper

import "fmt"

// Config holds the citation mapper settings. Keys are prefixed citation_
// because the summarized stage shares one config fragment across its
// components.
type Config struct {
	// Tier2MaxDistance is the cosine distance ceiling for a semantic
	// fallback match. Chunks beyond it leave the citation unmapped.
	Tier2MaxDistance float64 `json:"citation_tier2_max_distance"`

	// Tier2TopK is how many candidate chunks the semantic fallback
	// considers before the page-range filter.
	Tier2TopK int `json:"citation_tier2_top_k"`

	// MinWords is the minimum word count of a verbatim text worth
	// locating. Shorter snippets match everywhere and cite nothing.
	MinWords int `json:"citation_min_words"`
}

// DefaultConfig returns the default citation mapper configuration.
func DefaultConfig() Config {
	return Config{
		Tier2MaxDistance: 0.5,
		Tier2TopK:        5,
		MinWords:         3,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Tier2MaxDistance <= 0 || c.Tier2MaxDistance > 2 {
		return fmt.Errorf("citation_tier2_max_distance must be in (0, 2], got %v", c.Tier2MaxDistance)
	}
	if c.Tier2TopK < 1 {
		return fmt.Errorf("citation_tier2_top_k must be at least 1, got %d", c.Tier2TopK)
	}
	if c.MinWords < 1 {
		return fmt.Errorf("citation_min_words must be at least 1, got %d", c.MinWords)
	}
	return nil
}
