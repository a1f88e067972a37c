package documentclassifier

import (
	"encoding/json"
	"fmt"

	"github.com/strataline/policygraph/workflow"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterStage(workflow.Registration) error
}

// Register registers the document classifier stage with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterStage(workflow.Registration{
		Stage: workflow.StageClassified,
		Factory: func(rawConfig json.RawMessage, deps workflow.Deps) (workflow.Stage, error) {
			return NewComponent(rawConfig, deps)
		},
		Description: "Determines document type and section page placement",
		Version:     "0.1.0",
	})
}
