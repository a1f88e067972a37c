package sectionextractor

import "fmt"

// Config holds configuration for the section extractor stage.
type Config struct {
	// Capability selects the model registry capability used for extraction
	// calls.
	Capability string `json:"capability"`

	// MaxSectionsPerCall groups this many sections into one LLM call.
	MaxSectionsPerCall int `json:"max_sections_per_call"`

	// MaxCharsPerChunk truncates each chunk's text in the prompt.
	MaxCharsPerChunk int `json:"max_chars_per_chunk"`

	// MaxChunksPerSection caps how many chunks of one section are sent.
	MaxChunksPerSection int `json:"max_chunks_per_section"`

	// MaxOutputTokens caps the extraction response.
	MaxOutputTokens int `json:"max_output_tokens"`

	// PreferTables extracts schedule sections (sov, loss_run) from imported
	// tables instead of the LLM when materialized rows exist.
	PreferTables bool `json:"prefer_tables"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Capability == "" {
		return fmt.Errorf("capability is required")
	}
	if c.MaxSectionsPerCall < 1 {
		return fmt.Errorf("max_sections_per_call must be at least 1")
	}
	if c.MaxCharsPerChunk < 200 {
		return fmt.Errorf("max_chars_per_chunk must be at least 200")
	}
	if c.MaxChunksPerSection < 1 {
		return fmt.Errorf("max_chunks_per_section must be at least 1")
	}
	if c.MaxOutputTokens < 1024 {
		return fmt.Errorf("max_output_tokens must be at least 1024")
	}
	return nil
}

// DefaultConfig returns default configuration for the section extractor.
func DefaultConfig() Config {
	return Config{
		Capability:          "extraction",
		MaxSectionsPerCall:  3,
		MaxCharsPerChunk:    2000,
		MaxChunksPerSection: 40,
		MaxOutputTokens:     16384,
		PreferTables:        true,
	}
}
