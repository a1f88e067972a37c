// Package scenarios holds the end-to-end scenarios the e2e runner drives
// against the policygraph binary and live backends.
package scenarios

import (
	"context"
	"sync"
	"time"
)

// Scenario is one end-to-end behavior under test. Setup writes config and
// input files and prepares the database; Execute drives the binary and
// asserts on its output; Teardown releases whatever Setup acquired.
type Scenario interface {
	Name() string
	Description() string
	Setup(ctx context.Context) error
	Execute(ctx context.Context) (*Result, error)
	Teardown(ctx context.Context) error
}

// Result accumulates the outcome of one scenario run. Scenarios may record
// from multiple goroutines, so every mutator takes the lock.
type Result struct {
	ScenarioName string        `json:"scenario_name"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	Stages       []StageResult  `json:"stages,omitempty"`

	mu sync.Mutex
}

// StageResult is the timing and outcome of one step within a scenario.
type StageResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// NewResult starts the clock on a scenario run.
func NewResult(scenarioName string) *Result {
	return &Result{
		ScenarioName: scenarioName,
		StartTime:    time.Now(),
		Metrics:      map[string]any{},
		Details:      map[string]any{},
	}
}

// Complete stamps the end time and computes the total duration.
func (r *Result) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// AddError records a fatal problem.
func (r *Result) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
}

// AddWarning records a non-fatal problem.
func (r *Result) AddWarning(warning string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, warning)
}

// AddStage appends a finished step.
func (r *Result) AddStage(name string, success bool, duration time.Duration, err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stages = append(r.Stages, StageResult{Name: name, Success: success, Duration: duration, Error: err})
}

// SetMetric records a numeric observation for the report.
func (r *Result) SetMetric(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Metrics[key] = value
}

// SetDetail records scenario-specific output for the report.
func (r *Result) SetDetail(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Details[key] = value
}

// runStage times fn as a named step. The first failing step sets the
// scenario-level error and stops the scenario.
func runStage(result *Result, name string, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		result.AddStage(name, false, time.Since(start), err.Error())
		result.Error = name + ": " + err.Error()
		result.AddError(result.Error)
		return err
	}
	result.AddStage(name, true, time.Since(start), "")
	return nil
}
