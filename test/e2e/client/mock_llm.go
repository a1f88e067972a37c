package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MockLLMClient provides operations against the mock model server for e2e
// testing. It talks to the mock-llm process directly, not through the
// pipeline, so scenarios can assert which capabilities were exercised.
type MockLLMClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMockLLMClient creates a new client for the mock model server.
func NewMockLLMClient(baseURL string) *MockLLMClient {
	return &MockLLMClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// MockStats contains call statistics from the mock model server.
type MockStats struct {
	TotalCalls    int64            `json:"total_calls"`
	CallsByModel  map[string]int64 `json:"calls_by_model"`
	TextsEmbedded int64            `json:"texts_embedded"`
}

// GetStats retrieves call statistics from the mock model server.
func (c *MockLLMClient) GetStats(ctx context.Context) (*MockStats, error) {
	body, err := c.get(ctx, "/stats")
	if err != nil {
		return nil, err
	}
	var stats MockStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	return &stats, nil
}

// Health checks that the mock model server is reachable.
func (c *MockLLMClient) Health(ctx context.Context) error {
	_, err := c.get(ctx, "/health")
	return err
}

func (c *MockLLMClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
