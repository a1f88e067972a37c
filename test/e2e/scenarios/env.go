package scenarios

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	appconfig "github.com/strataline/policygraph/config"
	"github.com/strataline/policygraph/model"
	"github.com/strataline/policygraph/test/e2e/client"
	"github.com/strataline/policygraph/test/e2e/config"
)

// env holds one scenario's workspace: a generated policygraph.yaml wired to
// the e2e backends, a bundle fixture, and the CLI and mock server clients.
// Scenarios never share an env, so runs are independent.
type env struct {
	cfg        *config.Config
	workDir    string
	ownWorkDir bool
	configPath string
	bundlePath string

	cli  *client.CLIClient
	mock *client.MockLLMClient
}

func newEnv(cfg *config.Config) *env {
	return &env{cfg: cfg}
}

// setup creates the workspace, writes the generated config and the bundle
// fixture, and verifies the mock model server is reachable.
func (e *env) setup(ctx context.Context) error {
	if e.cfg.WorkDir != "" {
		if err := os.MkdirAll(e.cfg.WorkDir, 0755); err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
		e.workDir = e.cfg.WorkDir
	} else {
		dir, err := os.MkdirTemp("", "policygraph-e2e-*")
		if err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
		e.workDir = dir
		e.ownWorkDir = true
	}

	e.configPath = filepath.Join(e.workDir, "policygraph.yaml")
	if err := e.writeAppConfig(); err != nil {
		return err
	}

	e.bundlePath = filepath.Join(e.workDir, "acme-gl-policy.bundle.json")
	if err := os.WriteFile(e.bundlePath, []byte(policyBundle), 0644); err != nil {
		return fmt.Errorf("write bundle fixture: %w", err)
	}

	e.cli = client.NewCLIClient(e.cfg.BinaryPath, e.configPath, e.cfg.CommandTimeout)
	e.mock = client.NewMockLLMClient(e.cfg.ModelURL)

	if err := e.mock.Health(ctx); err != nil {
		return fmt.Errorf("mock model server at %s: %w", e.cfg.ModelURL, err)
	}
	return nil
}

// writeAppConfig generates a policygraph.yaml that points every capability
// at the mock model server and disables the optional backends, so the run
// needs only Postgres and the mock.
func (e *env) writeAppConfig() error {
	cfg := appconfig.DefaultConfig()

	cfg.Database.URL = e.cfg.DatabaseURL
	cfg.Database.MigrateOnStart = false

	endpoint := func(name string) *model.EndpointConfig {
		return &model.EndpointConfig{
			Provider: "ollama",
			URL:      e.cfg.ModelURL + "/v1",
			Model:    name,
		}
	}
	prefer := func(name string) *model.CapabilityConfig {
		return &model.CapabilityConfig{Preferred: []string{name}}
	}
	cfg.Models = &model.RegistryConfig{
		Capabilities: map[string]*model.CapabilityConfig{
			"classification": prefer(config.MockClassifierModel),
			"extraction":     prefer(config.MockExtractorModel),
			"relationships":  prefer(config.MockRelationshipsModel),
			"planning":       prefer(config.MockPlannerModel),
			"synthesis":      prefer(config.MockSynthesisModel),
			"fast":           prefer(config.MockFastModel),
		},
		Endpoints: map[string]*model.EndpointConfig{
			config.MockClassifierModel:    endpoint(config.MockClassifierModel),
			config.MockExtractorModel:     endpoint(config.MockExtractorModel),
			config.MockRelationshipsModel: endpoint(config.MockRelationshipsModel),
			config.MockPlannerModel:       endpoint(config.MockPlannerModel),
			config.MockSynthesisModel:     endpoint(config.MockSynthesisModel),
			config.MockFastModel:          endpoint(config.MockFastModel),
		},
	}

	cfg.Embedding.ServiceURL = e.cfg.ModelURL
	cfg.Embedding.Dimensions = 384
	cfg.LLM.RecordCalls = true

	cfg.Graph.Enabled = false
	cfg.Redis.Enabled = false
	cfg.NATS.URL = ""
	cfg.Watch.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Logging.Level = "error"

	if err := cfg.SaveToFile(e.configPath); err != nil {
		return fmt.Errorf("write generated config: %w", err)
	}
	return nil
}

// teardown removes the workspace when this env created it.
func (e *env) teardown(context.Context) error {
	if e.ownWorkDir && e.workDir != "" {
		return os.RemoveAll(e.workDir)
	}
	return nil
}

// policyBundle is a two page commercial general liability policy, small
// enough to read in a failure report but carrying real declarations,
// coverage grant, and exclusion text for the pipeline to work on.
const policyBundle = `{
  "document": {
    "filename": "acme-gl-policy.pdf",
    "mime_type": "application/pdf",
    "page_count": 2,
    "metadata": {"source": "e2e"}
  },
  "pages": [
    {"page_number": 1, "width_points": 612, "height_points": 792, "rotation": 0},
    {"page_number": 2, "width_points": 612, "height_points": 792, "rotation": 0}
  ],
  "chunks": [
    {
      "page_number": 1,
      "chunk_index": 0,
      "section_type": "declarations",
      "raw_text": "COMMERCIAL GENERAL LIABILITY DECLARATIONS\nPolicy Number: CGL-2025-88120\nNamed Insured: Acme Manufacturing LLC\nPolicy Period: 01/01/2025 to 01/01/2026\nEach Occurrence Limit: $1,000,000\nGeneral Aggregate Limit: $2,000,000\nDeductible: $25,000 per claim",
      "token_count": 64
    },
    {
      "page_number": 2,
      "chunk_index": 0,
      "section_type": "coverages",
      "raw_text": "SECTION I - COVERAGES\nCOVERAGE A - BODILY INJURY AND PROPERTY DAMAGE LIABILITY\nWe will pay those sums that the insured becomes legally obligated to pay as damages because of bodily injury or property damage to which this insurance applies.",
      "token_count": 52
    },
    {
      "page_number": 2,
      "chunk_index": 1,
      "section_type": "exclusions",
      "raw_text": "2. Exclusions\nThis insurance does not apply to:\nj. Flood\nLoss or damage caused directly or indirectly by flood, surface water, waves, tidal water, or overflow of any body of water.",
      "token_count": 44
    }
  ]
}
`
