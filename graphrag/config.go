package graphrag

import "fmt"

// Config holds the retrieval engine settings.
type Config struct {
	// PlanCapability selects the model used for query understanding.
	PlanCapability string `json:"plan_capability"`

	// SynthesisCapability selects the model used for answer generation.
	SynthesisCapability string `json:"synthesis_capability"`

	// VectorTopK is the result count requested per expanded query.
	VectorTopK int `json:"vector_top_k"`

	// MaxDistance drops vector matches beyond this cosine distance.
	MaxDistance float64 `json:"max_distance"`

	// RecencyDecayDays is the window over which the recency boost decays
	// linearly from its maximum to zero.
	RecencyDecayDays int `json:"recency_decay_days"`

	// MaxContextTokens bounds the assembled context when the request does
	// not set its own budget.
	MaxContextTokens int `json:"max_context_tokens"`

	// FullTextSlots is how many top results get their full text into the
	// context; the rest are summarized.
	FullTextSlots int `json:"full_text_slots"`

	// MaxSeeds caps how many canonical entities seed graph expansion.
	MaxSeeds int `json:"max_seeds"`

	// MaxNeighbors caps how many expanded edges enter the context.
	MaxNeighbors int `json:"max_neighbors"`

	// ResponseMaxTokens caps the synthesis completion length.
	ResponseMaxTokens int `json:"response_max_tokens"`
}

// DefaultConfig returns the retrieval defaults.
func DefaultConfig() Config {
	return Config{
		PlanCapability:      "planning",
		SynthesisCapability: "synthesis",
		VectorTopK:          10,
		MaxDistance:         0.7,
		RecencyDecayDays:    365,
		MaxContextTokens:    4000,
		FullTextSlots:       5,
		MaxSeeds:            5,
		MaxNeighbors:        30,
		ResponseMaxTokens:   1024,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.PlanCapability == "" {
		return fmt.Errorf("plan_capability is required")
	}
	if c.SynthesisCapability == "" {
		return fmt.Errorf("synthesis_capability is required")
	}
	if c.VectorTopK < 1 {
		return fmt.Errorf("vector_top_k must be at least 1, got %d", c.VectorTopK)
	}
	if c.MaxDistance <= 0 || c.MaxDistance > 2 {
		return fmt.Errorf("max_distance must be in (0, 2], got %f", c.MaxDistance)
	}
	if c.RecencyDecayDays < 1 {
		return fmt.Errorf("recency_decay_days must be at least 1, got %d", c.RecencyDecayDays)
	}
	if c.MaxContextTokens < 100 {
		return fmt.Errorf("max_context_tokens must be at least 100, got %d", c.MaxContextTokens)
	}
	if c.FullTextSlots < 0 {
		return fmt.Errorf("full_text_slots must not be negative, got %d", c.FullTextSlots)
	}
	if c.MaxSeeds < 0 {
		return fmt.Errorf("max_seeds must not be negative, got %d", c.MaxSeeds)
	}
	if c.MaxNeighbors < 0 {
		return fmt.Errorf("max_neighbors must not be negative, got %d", c.MaxNeighbors)
	}
	if c.ResponseMaxTokens < 1 {
		return fmt.Errorf("response_max_tokens must be at least 1, got %d", c.ResponseMaxTokens)
	}
	return nil
}
