package embedding

import (
	"fmt"
	"time"
)

// DefaultModel is the sentence-transformer model served by the embedding sidecar.
const DefaultModel = "all-MiniLM-L6-v2"

// DefaultDimensions is the vector width produced by DefaultModel.
const DefaultDimensions = 384

// Config holds embedding client configuration.
type Config struct {
	// ServiceURL is the base URL of the embedding sidecar.
	ServiceURL string `yaml:"service_url" json:"service_url"`

	// Model is the embedding model name. Persisted alongside every vector
	// so stale embeddings can be detected after a model upgrade.
	Model string `yaml:"model" json:"model"`

	// Dimensions is the expected vector width. Responses with any other
	// width are rejected.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// BatchSize is the maximum number of texts sent per request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Timeout bounds a single embedding request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// CacheTTL is how long cached vectors live in Redis. Zero disables expiry.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// DefaultConfig returns sensible defaults for the embedding client.
func DefaultConfig() Config {
	return Config{
		ServiceURL: "http://localhost:8089",
		Model:      DefaultModel,
		Dimensions: DefaultDimensions,
		BatchSize:  32,
		Timeout:    30 * time.Second,
		CacheTTL:   24 * time.Hour,
	}
}

// Validate checks the configuration for usability.
func (c Config) Validate() error {
	if c.ServiceURL == "" {
		return fmt.Errorf("embedding service_url required")
	}
	if c.Model == "" {
		return fmt.Errorf("embedding model required")
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Dimensions)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("embedding batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("embedding timeout must be positive")
	}
	return nil
}
