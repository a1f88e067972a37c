// Package testutil provides fakes for exercising stages without a model
// endpoint.
package testutil

import (
	"context"
	"sync"

	"github.com/strataline/policygraph/llm"
)

// MockLLMClient serves scripted responses in order. The zero value is
// usable; once the script runs out it answers with an empty response.
type MockLLMClient struct {
	// Responses are returned one per Complete call.
	Responses []*llm.Response

	// Err, when set, fails every call.
	Err error

	mu    sync.Mutex
	calls int
	next  int
}

// Complete returns the next scripted response.
func (m *MockLLMClient) Complete(_ context.Context, _ llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if m.next < len(m.Responses) {
		resp := m.Responses[m.next]
		m.next++
		return resp, nil
	}
	return &llm.Response{Model: "mock"}, nil
}

// GetCallCount reports how many times Complete ran.
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
