package relationshipextractor

import "fmt"

// Config holds configuration for the relationship extractor.
type Config struct {
	// Capability selects the model registry capability used for
	// relationship calls.
	Capability string `json:"relationship_capability"`

	// MaxCharsPerChunk truncates each chunk's text in batch prompts.
	MaxCharsPerChunk int `json:"relationship_max_chars_per_chunk"`

	// MaxOutputTokens caps each relationship response. Batches cover many
	// sections at once, so this is deliberately large.
	MaxOutputTokens int `json:"relationship_max_output_tokens"`

	// MinConfidence discards extracted edges below this confidence.
	MinConfidence float64 `json:"relationship_min_confidence"`

	// Synthesis enables the cross-batch synthesis pass after the semantic
	// batches complete.
	Synthesis bool `json:"relationship_synthesis"`

	// SynthesisEntitiesPerType truncates each entity type's listing in the
	// synthesis prompt.
	SynthesisEntitiesPerType int `json:"relationship_synthesis_entities_per_type"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Capability == "" {
		return fmt.Errorf("relationship_capability is required")
	}
	if c.MaxCharsPerChunk < 200 {
		return fmt.Errorf("relationship_max_chars_per_chunk must be at least 200")
	}
	if c.MaxOutputTokens < 1024 {
		return fmt.Errorf("relationship_max_output_tokens must be at least 1024")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("relationship_min_confidence must be between 0 and 1")
	}
	if c.SynthesisEntitiesPerType < 1 {
		return fmt.Errorf("relationship_synthesis_entities_per_type must be at least 1")
	}
	return nil
}

// DefaultConfig returns default configuration for the relationship
// extractor.
func DefaultConfig() Config {
	return Config{
		Capability:               "relationships",
		MaxCharsPerChunk:         2000,
		MaxOutputTokens:          65536,
		MinConfidence:            0.70,
		Synthesis:                true,
		SynthesisEntitiesPerType: 20,
	}
}
