package graphprojector

// Config holds the graph projector settings. Keys are prefixed graph_
// because the summarized stage shares one config fragment across its
// components.
type Config struct {
	// EnsureConstraints creates per-label uniqueness constraints before
	// the first projection. Disable when the graph user lacks schema
	// privileges and constraints are managed out of band.
	EnsureConstraints bool `json:"graph_ensure_constraints"`
}

// DefaultConfig returns the default graph projector configuration.
func DefaultConfig() Config {
	return Config{
		EnsureConstraints: true,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return nil
}
