package scenarios

import (
	"context"
	"fmt"
	"strings"

	"github.com/strataline/policygraph/test/e2e/client"
	"github.com/strataline/policygraph/test/e2e/config"
)

// PipelineBasicScenario ingests a policy bundle and runs document
// understanding to completion: migrate, ingest --run, then verifies the
// workflow status and that every model capability was actually called.
type PipelineBasicScenario struct {
	cfg *config.Config
	env *env
}

// NewPipelineBasicScenario creates the scenario.
func NewPipelineBasicScenario(cfg *config.Config) *PipelineBasicScenario {
	return &PipelineBasicScenario{cfg: cfg, env: newEnv(cfg)}
}

// Name implements Scenario.
func (s *PipelineBasicScenario) Name() string {
	return "pipeline-basic"
}

// Description implements Scenario.
func (s *PipelineBasicScenario) Description() string {
	return "Ingests a GL policy bundle and runs the five stage pipeline to completion"
}

// Setup implements Scenario.
func (s *PipelineBasicScenario) Setup(ctx context.Context) error {
	return s.env.setup(ctx)
}

// Teardown implements Scenario.
func (s *PipelineBasicScenario) Teardown(ctx context.Context) error {
	return s.env.teardown(ctx)
}

// Execute implements Scenario.
func (s *PipelineBasicScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())
	defer result.Complete()

	if err := runStage(result, "migrate", func() error {
		_, err := s.env.cli.MustSucceed(ctx, "migrate")
		return err
	}); err != nil {
		return result, nil
	}

	var workflowID int64
	if err := runStage(result, "ingest-and-run", func() error {
		res, err := s.env.cli.MustSucceed(ctx, "ingest", s.env.bundlePath, "--name", "e2e-acme-gl", "--run")
		if err != nil {
			return err
		}
		workflowID, err = client.ParseWorkflowID(res.Stdout)
		if err != nil {
			return err
		}
		if !strings.Contains(res.Stdout, "finished: completed") {
			return fmt.Errorf("pipeline did not complete: %s", res.Stdout)
		}
		return nil
	}); err != nil {
		return result, nil
	}
	result.SetDetail("workflow_id", workflowID)

	if err := runStage(result, "status", func() error {
		res, err := s.env.cli.MustSucceed(ctx, "status", fmt.Sprint(workflowID))
		if err != nil {
			return err
		}
		for _, want := range []string{"completed", "processed", "classified", "extracted", "enriched", "summarized", "acme-gl-policy.pdf"} {
			if !strings.Contains(res.Stdout, want) {
				return fmt.Errorf("status output missing %q:\n%s", want, res.Stdout)
			}
		}
		return nil
	}); err != nil {
		return result, nil
	}

	if err := runStage(result, "model-calls", func() error {
		stats, err := s.env.mock.GetStats(ctx)
		if err != nil {
			return err
		}
		result.SetMetric("model_calls_total", stats.TotalCalls)
		result.SetMetric("texts_embedded", stats.TextsEmbedded)
		for _, model := range []string{config.MockClassifierModel, config.MockExtractorModel, config.MockRelationshipsModel} {
			if stats.CallsByModel[model] < 1 {
				return fmt.Errorf("capability behind %s was never called (stats: %+v)", model, stats.CallsByModel)
			}
		}
		if stats.TextsEmbedded < 1 {
			return fmt.Errorf("no texts were embedded")
		}
		return nil
	}); err != nil {
		return result, nil
	}

	result.Success = true
	return result, nil
}
