package entityresolver

import (
	"encoding/json"
	"fmt"

	relationshipextractor "github.com/strataline/policygraph/processor/relationship-extractor"
	"github.com/strataline/policygraph/workflow"
)

// RegistryInterface is the subset of the stage registry this package needs.
type RegistryInterface interface {
	RegisterStage(reg workflow.Registration) error
}

// Register wires the enriched stage into the stage registry. The stage runs
// entity resolution first and relationship extraction second; both
// components read their own keys from the same stage config fragment.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry is nil")
	}
	return registry.RegisterStage(workflow.Registration{
		Stage: workflow.StageEnriched,
		Factory: func(rawConfig json.RawMessage, deps workflow.Deps) (workflow.Stage, error) {
			resolver, err := NewComponent(rawConfig, deps)
			if err != nil {
				return nil, fmt.Errorf("entity resolver: %w", err)
			}
			extractor, err := relationshipextractor.NewComponent(rawConfig, deps)
			if err != nil {
				return nil, fmt.Errorf("relationship extractor: %w", err)
			}
			return workflow.Sequence(workflow.StageEnriched, resolver, extractor), nil
		},
		Description: "Resolves canonical entities and extracts relationships",
		Version:     "0.1.0",
	})
}
