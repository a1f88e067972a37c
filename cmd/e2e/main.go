// Command e2e drives the policygraph binary through full pipeline runs
// against live Postgres and the mock model server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strataline/policygraph/test/e2e/config"
	"github.com/strataline/policygraph/test/e2e/scenarios"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// registry builds the scenario set in run order.
func registry(cfg *config.Config) []scenarios.Scenario {
	return []scenarios.Scenario{
		scenarios.NewPipelineBasicScenario(cfg),
		scenarios.NewQueryGroundedScenario(cfg),
	}
}

func rootCmd() *cobra.Command {
	var (
		binaryPath    string
		databaseURL   string
		modelURL      string
		workDir       string
		outputJSON    bool
		timeout       time.Duration
		globalTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "e2e [scenario]",
		Short: "Run policygraph end-to-end tests",
		Long: `Drive the policygraph binary through full pipeline runs.

Runs need a reachable Postgres and a mock model server started as
"mock-llm -fixtures test/e2e/fixtures"; no real model host is involved.
With no argument every registered scenario runs in order. "e2e list"
prints the registry.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := ""
			if len(args) > 0 && args[0] != "all" {
				selected = args[0]
			}
			cfg := &config.Config{
				BinaryPath:     binaryPath,
				DatabaseURL:    databaseURL,
				ModelURL:       modelURL,
				WorkDir:        workDir,
				CommandTimeout: timeout,
				SetupTimeout:   timeout * 2,
				StageTimeout:   timeout,
			}
			return run(selected, cfg, outputJSON, globalTimeout)
		},
	}

	cmd.Flags().StringVar(&binaryPath, "binary", config.DefaultBinaryPath, "path to the policygraph binary under test")
	cmd.Flags().StringVar(&databaseURL, "database", config.DefaultDatabaseURL, "Postgres URL for the e2e database")
	cmd.Flags().StringVar(&modelURL, "model-url", config.DefaultModelURL, "mock model server base URL")
	cmd.Flags().StringVar(&workDir, "workdir", "", "scenario workspace (default: per-scenario temp dir)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "emit results as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", config.DefaultCommandTimeout, "per-command timeout")
	cmd.Flags().DurationVar(&globalTimeout, "global-timeout", 10*time.Minute, "budget for the whole run")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered scenarios",
		Run: func(cmd *cobra.Command, args []string) {
			for _, s := range registry(&config.Config{}) {
				fmt.Printf("  %-16s %s\n", s.Name(), s.Description())
			}
		},
	})

	return cmd
}

func run(selected string, cfg *config.Config, outputJSON bool, globalTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), globalTimeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var toRun []scenarios.Scenario
	for _, s := range registry(cfg) {
		if selected == "" || s.Name() == selected {
			toRun = append(toRun, s)
		}
	}
	if len(toRun) == 0 {
		return fmt.Errorf("unknown scenario: %s", selected)
	}

	rep := reporter{quiet: outputJSON}
	var results []*scenarios.Result
	for _, s := range toRun {
		if ctx.Err() != nil {
			rep.printf("\ninterrupted, skipping remaining scenarios\n")
			break
		}
		results = append(results, execute(ctx, s, rep))
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}

	if outputJSON {
		writeJSON(results, failed)
	} else {
		rep.summary(results, failed)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}

// execute runs one scenario through its setup/execute/teardown lifecycle.
// Setup failure short-circuits; teardown failure only warns.
func execute(ctx context.Context, s scenarios.Scenario, rep reporter) *scenarios.Result {
	rep.printf("\n== %s: %s\n", s.Name(), s.Description())

	if err := s.Setup(ctx); err != nil {
		rep.printf("   setup FAILED: %v\n", err)
		result := scenarios.NewResult(s.Name())
		result.Error = fmt.Sprintf("setup failed: %v", err)
		result.AddError(result.Error)
		result.Complete()
		return result
	}

	result, err := s.Execute(ctx)
	switch {
	case err != nil:
		result = scenarios.NewResult(s.Name())
		result.Error = fmt.Sprintf("execution error: %v", err)
		result.AddError(result.Error)
		result.Complete()
		rep.printf("   ERROR: %v\n", err)
	case result.Success:
		rep.printf("   PASSED (%dms)\n", result.Duration.Milliseconds())
	default:
		rep.printf("   FAILED: %s\n", result.Error)
	}

	if err := s.Teardown(ctx); err != nil {
		result.AddWarning(fmt.Sprintf("teardown failed: %v", err))
		rep.printf("   teardown warning: %v\n", err)
	}

	for _, stage := range result.Stages {
		mark := "ok  "
		if !stage.Success {
			mark = "FAIL"
		}
		rep.printf("   %s %-24s %dms\n", mark, stage.Name, stage.Duration.Milliseconds())
		if stage.Error != "" {
			rep.printf("        %s\n", stage.Error)
		}
	}
	return result
}

// reporter writes progress to stdout unless JSON output was requested.
type reporter struct {
	quiet bool
}

func (r reporter) printf(format string, args ...any) {
	if !r.quiet {
		fmt.Printf(format, args...)
	}
}

func (r reporter) summary(results []*scenarios.Result, failed int) {
	fmt.Printf("\n%d scenarios, %d passed, %d failed\n", len(results), len(results)-failed, failed)
	for _, res := range results {
		status := "PASS"
		if !res.Success {
			status = "FAIL"
		}
		fmt.Printf("  %s  %s (%dms)\n", status, res.ScenarioName, res.Duration.Milliseconds())
		if res.Error != "" {
			fmt.Printf("        %s\n", res.Error)
		}
	}
}

func writeJSON(results []*scenarios.Result, failed int) {
	out := struct {
		Timestamp time.Time           `json:"timestamp"`
		Results   []*scenarios.Result `json:"results"`
		Total     int                 `json:"total"`
		Passed    int                 `json:"passed"`
		Failed    int                 `json:"failed"`
	}{time.Now(), results, len(results), len(results) - failed, failed}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling results: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
