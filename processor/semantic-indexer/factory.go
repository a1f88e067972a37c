package semanticindexer

import (
	"encoding/json"
	"fmt"

	citationmapper "github.com/strataline/policygraph/processor/citation-mapper"
	graphprojector "github.com/strataline/policygraph/processor/graph-projector"
	"github.com/strataline/policygraph/workflow"
)

// RegistryInterface is the subset of the stage registry this package needs.
type RegistryInterface interface {
	RegisterStage(reg workflow.Registration) error
}

// Register wires the summarized stage into the stage registry. Indexing
// runs first because tier-2 citation mapping searches the chunk embeddings
// it writes; graph projection runs last. All three components read their
// own keys from the same stage config fragment.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry is nil")
	}
	return registry.RegisterStage(workflow.Registration{
		Stage: workflow.StageSummarized,
		Factory: func(rawConfig json.RawMessage, deps workflow.Deps) (workflow.Stage, error) {
			indexer, err := NewComponent(rawConfig, deps)
			if err != nil {
				return nil, fmt.Errorf("semantic indexer: %w", err)
			}
			mapper, err := citationmapper.NewComponent(rawConfig, deps)
			if err != nil {
				return nil, fmt.Errorf("citation mapper: %w", err)
			}
			projector, err := graphprojector.NewComponent(rawConfig, deps)
			if err != nil {
				return nil, fmt.Errorf("graph projector: %w", err)
			}
			return workflow.Sequence(workflow.StageSummarized, indexer, mapper, projector), nil
		},
		Description: "Indexes embeddings, maps citations, and projects the entity graph",
		Version:     "0.1.0",
	})
}
