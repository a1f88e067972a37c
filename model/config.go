package model

// RegistryConfig is the decoded model_registry section of the service
// config. Capability keys are strings so the config package can decode
// straight into it.
type RegistryConfig struct {
	Capabilities map[string]*CapabilityConfig `json:"capabilities" yaml:"capabilities"`
	Endpoints    map[string]*EndpointConfig   `json:"endpoints" yaml:"endpoints"`
}

// NewFromConfig builds a registry from a decoded config section. A nil
// config yields an empty registry that serves nothing.
func NewFromConfig(cfg *RegistryConfig) *Registry {
	if cfg == nil {
		return NewRegistry(nil, nil)
	}

	caps := make(map[Capability]*CapabilityConfig, len(cfg.Capabilities))
	for key, c := range cfg.Capabilities {
		capability := ParseCapability(key)
		if capability == "" {
			// Unknown names are kept verbatim so a config can carry
			// capabilities ahead of the code that understands them.
			capability = Capability(key)
		}
		caps[capability] = c
	}

	return NewRegistry(caps, cfg.Endpoints)
}
