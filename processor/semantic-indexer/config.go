package semanticindexer

import "fmt"

// Config holds the semantic indexer settings. The summarized stage hands
// the same config fragment to the citation mapper and graph projector;
// their keys are prefixed citation_ and graph_ respectively.
type Config struct {
	// EmbeddingVersion tags every written row. Bumping it invalidates
	// cached vectors and marks older rows stale for resync tooling.
	EmbeddingVersion string `json:"embedding_version"`

	// IndexChunks controls whether raw chunks are embedded alongside
	// section entities. Chunk rows power tier-2 citations and
	// keyword-free retrieval.
	IndexChunks bool `json:"index_chunks"`
}

// DefaultConfig returns the default semantic indexer configuration.
func DefaultConfig() Config {
	return Config{
		EmbeddingVersion: "v1",
		IndexChunks:      true,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.EmbeddingVersion == "" {
		return fmt.Errorf("embedding_version is required")
	}
	return nil
}
