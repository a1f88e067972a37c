package sectionextractor

import (
	"encoding/json"
	"fmt"

	"github.com/strataline/policygraph/workflow"
)

// RegistryInterface is the subset of the stage registry this package needs.
type RegistryInterface interface {
	RegisterStage(reg workflow.Registration) error
}

// Register wires the section extractor into the stage registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry is nil")
	}
	return registry.RegisterStage(workflow.Registration{
		Stage: workflow.StageExtracted,
		Factory: func(rawConfig json.RawMessage, deps workflow.Deps) (workflow.Stage, error) {
			return NewComponent(rawConfig, deps)
		},
		Description: "Extracts structured per-section fields and entities",
		Version:     "0.1.0",
	})
}
