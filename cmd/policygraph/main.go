// Package main provides the policygraph binary entry point.
// Policygraph ingests OCR'd insurance document bundles, runs them
// through a staged understanding pipeline, and answers questions over
// the result with page-anchored citations.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/strataline/policygraph/commands"
	documentclassifier "github.com/strataline/policygraph/processor/document-classifier"
	documentprocessor "github.com/strataline/policygraph/processor/document-processor"
	entityresolver "github.com/strataline/policygraph/processor/entity-resolver"
	sectionextractor "github.com/strataline/policygraph/processor/section-extractor"
	semanticindexer "github.com/strataline/policygraph/processor/semantic-indexer"
	"github.com/strataline/policygraph/workflow"
)

const Version = "0.1.0"

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	registry, err := buildRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	commands.Execute(Version, registry)
}

// buildRegistry registers every pipeline stage factory, one per stage in
// execution order.
func buildRegistry() (*workflow.Registry, error) {
	registry := workflow.NewRegistry()

	if err := documentprocessor.Register(registry); err != nil {
		return nil, fmt.Errorf("register document-processor: %w", err)
	}
	if err := documentclassifier.Register(registry); err != nil {
		return nil, fmt.Errorf("register document-classifier: %w", err)
	}
	if err := sectionextractor.Register(registry); err != nil {
		return nil, fmt.Errorf("register section-extractor: %w", err)
	}
	if err := entityresolver.Register(registry); err != nil {
		return nil, fmt.Errorf("register entity-resolver: %w", err)
	}
	if err := semanticindexer.Register(registry); err != nil {
		return nil, fmt.Errorf("register semantic-indexer: %w", err)
	}

	return registry, nil
}
