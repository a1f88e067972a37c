package graphstore

import "fmt"

// Config holds connection settings for the graph store.
type Config struct {
	// URI is the bolt/neo4j connection URI.
	URI string `yaml:"uri" json:"uri"`

	// Username authenticates the driver connection.
	Username string `yaml:"username" json:"username"`

	// Password authenticates the driver connection.
	Password string `yaml:"password" json:"password"`

	// Database is the target database name.
	Database string `yaml:"database" json:"database"`
}

// DefaultConfig returns sensible default configuration for a local instance.
func DefaultConfig() Config {
	return Config{
		URI:      "bolt://localhost:7687",
		Username: "neo4j",
		Database: "neo4j",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}
