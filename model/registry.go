package model

import (
	"fmt"
	"strings"
	"sync"
)

// Registry resolves capabilities to endpoint chains. It is safe for
// concurrent use; the llm client consults it on every call.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[Capability]*CapabilityConfig
	endpoints    map[string]*EndpointConfig
	breakers     *breakerSet
}

// CapabilityConfig orders the models that can serve one capability.
type CapabilityConfig struct {
	// Description is operator documentation, unused by code.
	Description string `json:"description" yaml:"description"`

	// Preferred models are tried first, in order.
	Preferred []string `json:"preferred" yaml:"preferred"`

	// Fallback models are tried after every preferred one has failed.
	Fallback []string `json:"fallback" yaml:"fallback"`
}

// chain returns preferred and fallback models in try order.
func (c *CapabilityConfig) chain() []string {
	out := make([]string, 0, len(c.Preferred)+len(c.Fallback))
	out = append(out, c.Preferred...)
	out = append(out, c.Fallback...)
	return out
}

// EndpointConfig describes one callable model.
type EndpointConfig struct {
	// Provider names the registered adapter ("anthropic", "ollama",
	// "openai").
	Provider string `json:"provider" yaml:"provider"`

	// URL overrides the provider's default host. Required for ollama
	// deployments not on localhost.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the identifier sent to the provider.
	Model string `json:"model" yaml:"model"`

	// MaxTokens is the endpoint's context window, informational.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// NewRegistry builds a registry over the given capability and endpoint
// maps. The maps are not copied; callers hand over ownership.
func NewRegistry(caps map[Capability]*CapabilityConfig, endpoints map[string]*EndpointConfig) *Registry {
	return &Registry{
		capabilities: caps,
		endpoints:    endpoints,
		breakers:     newBreakerSet(),
	}
}

// NewDefaultRegistry wires a lineup that favors hosted claude models
// with local ollama fallbacks. It backs deployments that configure
// nothing.
func NewDefaultRegistry() *Registry {
	endpoints := map[string]*EndpointConfig{
		"claude-sonnet": {Provider: "anthropic", Model: "claude-sonnet-4-20250514", MaxTokens: 200000},
		"claude-haiku":  {Provider: "anthropic", Model: "claude-haiku-3-5-20241022", MaxTokens: 200000},
		"qwen":          {Provider: "ollama", URL: "http://localhost:11434/v1", Model: "qwen2.5:14b", MaxTokens: 128000},
		"llama3.2":      {Provider: "ollama", URL: "http://localhost:11434/v1", Model: "llama3.2", MaxTokens: 128000},
	}

	strong := func(desc string) *CapabilityConfig {
		return &CapabilityConfig{
			Description: desc,
			Preferred:   []string{"claude-sonnet"},
			Fallback:    []string{"claude-haiku", "qwen"},
		}
	}
	quick := func(desc string, fallback ...string) *CapabilityConfig {
		return &CapabilityConfig{
			Description: desc,
			Preferred:   []string{"claude-haiku"},
			Fallback:    fallback,
		}
	}

	return NewRegistry(map[Capability]*CapabilityConfig{
		CapabilityClassification: quick("document type detection", "qwen", "llama3.2"),
		CapabilityExtraction:     strong("structured extraction from policy sections"),
		CapabilityRelationships:  strong("typed relationships between resolved entities"),
		CapabilityPlanning:       quick("query analysis and retrieval planning", "qwen"),
		CapabilitySynthesis:      strong("grounded answers over retrieved context"),
		CapabilityFast:           quick("cheap yes or no calls and reformatting", "qwen"),
	}, endpoints)
}

// GetFallbackChain returns every model that may serve cap, preferred
// first. Capabilities absent from the config ride the fast chain, so a
// sparse config still answers every request. Returns nil when nothing
// is configured.
func (r *Registry) GetFallbackChain(cap Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg := r.capabilities[cap]; cfg != nil {
		return cfg.chain()
	}
	if cfg := r.capabilities[CapabilityFast]; cap != CapabilityFast && cfg != nil {
		return cfg.chain()
	}
	return nil
}

// GetEndpoint returns the endpoint registered under name, or nil.
func (r *Registry) GetEndpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[name]
}

// Validate reports every model referenced by a capability that has no
// endpoint, and every endpoint missing a provider or model. All problems
// come back in one error.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var problems []string

	for capability, cfg := range r.capabilities {
		if cfg == nil {
			continue
		}
		for _, name := range cfg.chain() {
			if _, ok := r.endpoints[name]; !ok {
				problems = append(problems,
					fmt.Sprintf("capability %s references model %q with no endpoint", capability, name))
			}
		}
	}

	for name, ep := range r.endpoints {
		if ep == nil {
			problems = append(problems, fmt.Sprintf("endpoint %q is empty", name))
			continue
		}
		if ep.Provider == "" {
			problems = append(problems, fmt.Sprintf("endpoint %q has no provider", name))
		}
		if ep.Model == "" {
			problems = append(problems, fmt.Sprintf("endpoint %q has no model", name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("model registry: %s", strings.Join(problems, "; "))
	}
	return nil
}
