package documentprocessor

import "fmt"

// Config holds configuration for the document processor stage.
type Config struct {
	// RequireOCR fails the stage when a document carries no OCR words.
	// Off by default: born-digital PDFs legitimately skip OCR, at the cost
	// of tier-1 citation mapping later.
	RequireOCR bool `json:"require_ocr"`

	// RebuildRawText synthesizes the document raw text from chunks when the
	// importer did not provide one.
	RebuildRawText bool `json:"rebuild_raw_text"`

	// MaxUnknownSectionRatio bounds the fraction of chunks whose section
	// type is outside the vocabulary before the stage fails.
	MaxUnknownSectionRatio float64 `json:"max_unknown_section_ratio"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MaxUnknownSectionRatio < 0 || c.MaxUnknownSectionRatio > 1 {
		return fmt.Errorf("max_unknown_section_ratio must be between 0 and 1")
	}
	return nil
}

// DefaultConfig returns default configuration for the document processor.
func DefaultConfig() Config {
	return Config{
		RequireOCR:             false,
		RebuildRawText:         true,
		MaxUnknownSectionRatio: 0.5,
	}
}
