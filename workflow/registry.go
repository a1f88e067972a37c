package workflow

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Factory builds a Stage from its JSON config fragment and shared
// dependencies. A nil rawConfig means defaults.
type Factory func(rawConfig json.RawMessage, deps Deps) (Stage, error)

// Registration describes one stage implementation for the engine registry.
type Registration struct {
	Stage       StageName
	Factory     Factory
	Description string
	Version     string
}

// Registry maps stage names to factories. Processor packages register
// themselves at composition time; the engine builds one Stage per name.
type Registry struct {
	mu      sync.RWMutex
	entries map[StageName]Registration
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[StageName]Registration)}
}

// RegisterStage records a stage factory. Duplicate or invalid registrations
// are errors.
func (r *Registry) RegisterStage(reg Registration) error {
	if !reg.Stage.IsValid() {
		return fmt.Errorf("unknown stage %q", reg.Stage)
	}
	if reg.Factory == nil {
		return fmt.Errorf("stage %s: factory cannot be nil", reg.Stage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[reg.Stage]; exists {
		return fmt.Errorf("stage %s already registered", reg.Stage)
	}
	r.entries[reg.Stage] = reg
	return nil
}

// Registered returns the registered stage names in pipeline order.
func (r *Registry) Registered() []StageName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []StageName
	for _, name := range stageOrder {
		if _, ok := r.entries[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Build constructs the Stage registered under name.
func (r *Registry) Build(name StageName, rawConfig json.RawMessage, deps Deps) (Stage, error) {
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no stage registered for %q", name)
	}

	stage, err := reg.Factory(rawConfig, deps)
	if err != nil {
		return nil, fmt.Errorf("build stage %s: %w", name, err)
	}
	if stage.Name() != name {
		return nil, fmt.Errorf("stage registered as %s reports name %s", name, stage.Name())
	}
	return stage, nil
}

// BuildAll constructs every registered stage, pulling each stage's config
// fragment from configs by stage name. The engine requires the full ordered
// pipeline, so a gap in registrations is an error.
func (r *Registry) BuildAll(configs map[string]json.RawMessage, deps Deps) (map[StageName]Stage, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stage dependencies: %w", err)
	}

	stages := make(map[StageName]Stage, len(stageOrder))
	for _, name := range stageOrder {
		stage, err := r.Build(name, configs[string(name)], deps)
		if err != nil {
			return nil, err
		}
		stages[name] = stage
	}
	return stages, nil
}
