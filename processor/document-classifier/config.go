package documentclassifier

import "fmt"

// Config holds configuration for the document classifier stage.
type Config struct {
	// Capability selects the model registry capability used for
	// classification calls.
	Capability string `json:"capability"`

	// SampleChunks is how many chunks from the head of the document are
	// included in the classification prompt.
	SampleChunks int `json:"sample_chunks"`

	// SampleChars truncates each sampled chunk to this many characters.
	SampleChars int `json:"sample_chars"`

	// MaxOutputTokens caps the classification response.
	MaxOutputTokens int `json:"max_output_tokens"`

	// ReclassifyExisting reruns classification even when a verdict already
	// exists for the document.
	ReclassifyExisting bool `json:"reclassify_existing"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Capability == "" {
		return fmt.Errorf("capability is required")
	}
	if c.SampleChunks < 1 {
		return fmt.Errorf("sample_chunks must be at least 1")
	}
	if c.SampleChars < 200 {
		return fmt.Errorf("sample_chars must be at least 200")
	}
	if c.MaxOutputTokens < 256 {
		return fmt.Errorf("max_output_tokens must be at least 256")
	}
	return nil
}

// DefaultConfig returns default configuration for the document classifier.
func DefaultConfig() Config {
	return Config{
		Capability:      "classification",
		SampleChunks:    12,
		SampleChars:     2000,
		MaxOutputTokens: 2048,
	}
}
