// Package client provides test clients for e2e scenarios.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"
)

// CLIClient runs the policygraph binary for e2e testing. Every command is a
// one-shot subprocess; stdout and stderr are captured separately.
type CLIClient struct {
	binaryPath string
	configPath string
	timeout    time.Duration
}

// CommandResult holds the outcome of one CLI invocation.
type CommandResult struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// NewCLIClient creates a client for the binary at binaryPath. Commands run
// with --config configPath when it is non-empty.
func NewCLIClient(binaryPath, configPath string, timeout time.Duration) *CLIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CLIClient{
		binaryPath: binaryPath,
		configPath: configPath,
		timeout:    timeout,
	}
}

// Run executes one subcommand and waits for it to exit. A non-zero exit is
// not an error here; callers inspect ExitCode so scenarios can assert on
// failure output too. The returned error covers spawn and timeout failures.
func (c *CLIClient) Run(ctx context.Context, args ...string) (*CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	full := args
	if c.configPath != "" {
		full = append([]string{"--config", c.configPath}, args...)
	}

	cmd := exec.CommandContext(ctx, c.binaryPath, full...)
	cmd.Env = append(os.Environ(), "NO_COLOR=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &CommandResult{
		Args:     full,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("command %v timed out after %s", args, c.timeout)
		}
		return result, fmt.Errorf("run %s %v: %w", c.binaryPath, args, err)
	}
	return result, nil
}

// MustSucceed runs a subcommand and fails when it exits non-zero.
func (c *CLIClient) MustSucceed(ctx context.Context, args ...string) (*CommandResult, error) {
	result, err := c.Run(ctx, args...)
	if err != nil {
		return result, err
	}
	if result.ExitCode != 0 {
		return result, fmt.Errorf("command %v exited %d: %s", args, result.ExitCode, firstLine(result.Stderr))
	}
	return result, nil
}

var workflowIDPattern = regexp.MustCompile(`workflow (\d+)`)

// ParseWorkflowID extracts the first workflow id mentioned in CLI output.
func ParseWorkflowID(output string) (int64, error) {
	m := workflowIDPattern.FindStringSubmatch(output)
	if m == nil {
		return 0, fmt.Errorf("no workflow id in output: %s", firstLine(output))
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse workflow id %q: %w", m[1], err)
	}
	return id, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
