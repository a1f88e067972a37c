// Package llm sends chat completions on behalf of the pipeline. Callers
// name a capability rather than a model; the registry resolves the
// capability to an ordered chain of endpoints and the client works down
// the chain, retrying transient failures at each stop. When a call store
// is attached, every completion is recorded with timing and token counts.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/strataline/policygraph/metrics"
	"github.com/strataline/policygraph/model"
)

// maxResponseBytes caps how much of an upstream reply is read.
const maxResponseBytes = 10 << 20

// Client issues completion requests against registry-managed endpoints.
type Client struct {
	registry   *model.Registry
	httpClient *http.Client
	retry      RetryConfig
	logger     *slog.Logger
	metrics    *metrics.Collector

	// calls is nil unless call recording is enabled.
	calls *CallStore
}

// RetryConfig tunes per-endpoint retry behavior.
type RetryConfig struct {
	// MaxAttempts bounds the tries against a single endpoint.
	MaxAttempts int

	// BackoffBase is the delay after the first failure.
	BackoffBase time.Duration

	// BackoffMultiplier grows the delay on each further failure.
	BackoffMultiplier float64

	// MaxBackoff caps the grown delay.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the retry settings used when none are
// configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig replaces the default retry settings.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithCallStore enables call recording. Every completion, failed ones
// included, lands in the store with timing and token usage.
func WithCallStore(store *CallStore) ClientOption {
	return func(client *Client) {
		client.calls = store
	}
}

// WithMetrics attaches the Prometheus collector.
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(client *Client) {
		client.metrics = m
	}
}

// NewClient creates a client that selects endpoints through registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry: registry,
		retry:    DefaultRetryConfig(),
		httpClient: &http.Client{
			// Long completions on local CPU-bound models take a while.
			Timeout: 90 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends a completion request, walking the capability's fallback
// chain until an endpoint answers. Transient failures are retried per
// endpoint; fatal ones abort immediately.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Capability == "" {
		return nil, fmt.Errorf("request capability is empty")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("request has no messages")
	}

	capability := model.ParseCapability(req.Capability)
	if capability == "" {
		capability = model.CapabilityFast
	}
	chain := c.registry.GetAvailableFallbackChain(capability)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no models serve capability %s", req.Capability)
	}

	scope := GetTraceContext(ctx)
	rec := &CallRecord{
		RequestID:  uuid.NewString(),
		WorkflowID: scope.WorkflowID,
		DocumentID: scope.DocumentID,
		Stage:      scope.Stage,
		Capability: req.Capability,
		Messages:   req.Messages,
		StartedAt:  time.Now(),
	}

	var lastErr error
	for _, name := range chain {
		ep := c.registry.GetEndpoint(name)
		if ep == nil {
			c.logger.Debug("model has no endpoint", "model", name)
			continue
		}
		if !c.registry.IsEndpointAvailable(name) {
			c.logger.Debug("endpoint cooling down", "model", name)
			continue
		}

		resp, attempts, err := c.attemptEndpoint(ctx, ep, name, req)
		rec.Retries += attempts - 1
		if err == nil {
			resp.RequestID = rec.RequestID
			rec.Model = resp.Model
			rec.Provider = ep.Provider
			rec.Response = resp.Content
			rec.PromptTokens = resp.Usage.PromptTokens
			rec.CompletionTokens = resp.Usage.CompletionTokens
			rec.TotalTokens = resp.Usage.TotalTokens
			rec.FinishReason = resp.FinishReason
			rec.ContextBudget = ep.MaxTokens
			c.finishRecord(ctx, rec)
			return resp, nil
		}

		lastErr = err
		rec.FallbacksUsed++
		c.logger.Warn("endpoint failed",
			"model", name,
			"provider", ep.Provider,
			"error", err)

		if IsFatal(err) {
			rec.Model = name
			rec.Provider = ep.Provider
			rec.ContextBudget = ep.MaxTokens
			rec.Error = err.Error()
			c.finishRecord(ctx, rec)
			return nil, err
		}
	}

	if lastErr == nil {
		rec.Error = "no usable endpoints"
		c.finishRecord(ctx, rec)
		return nil, fmt.Errorf("capability %s has no usable endpoints", req.Capability)
	}

	rec.Error = fmt.Sprintf("chain exhausted: %v", lastErr)
	c.finishRecord(ctx, rec)
	return nil, fmt.Errorf("capability %s exhausted its chain: %w", req.Capability, lastErr)
}

// finishRecord stamps timing, feeds metrics, and hands the record to the
// call store when one is mounted. Recording never fails a completion.
func (c *Client) finishRecord(ctx context.Context, rec *CallRecord) {
	rec.CompletedAt = time.Now()
	elapsed := rec.CompletedAt.Sub(rec.StartedAt)
	rec.DurationMs = elapsed.Milliseconds()

	c.metrics.ObserveLLMCall(rec.Capability, rec.Error == "", elapsed,
		rec.PromptTokens, rec.CompletionTokens)

	if c.calls == nil {
		return
	}
	if err := c.calls.Store(ctx, rec); err != nil {
		c.logger.Warn("llm call not recorded",
			"request_id", rec.RequestID,
			"capability", rec.Capability,
			"error", err)
	}
}

// attemptEndpoint sends the request to one endpoint, retrying transient
// failures up to the attempt budget. It reports how many attempts were
// spent so the caller can account retries across fallbacks.
func (c *Client) attemptEndpoint(ctx context.Context, ep *model.EndpointConfig, name string, req Request) (*Response, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		resp, err := c.send(ctx, ep, req)
		if err == nil {
			c.registry.MarkEndpointSuccess(name)
			return resp, attempt, nil
		}
		lastErr = err

		// Auth and request-shape failures say nothing about endpoint
		// health, so the breaker is left alone.
		if IsFatal(err) {
			return nil, attempt, err
		}
		if attempt == c.retry.MaxAttempts {
			break
		}

		delay := c.backoffDelay(attempt)
		c.logger.Debug("transient failure, backing off",
			"model", name,
			"attempt", attempt,
			"delay", delay,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(delay):
		}
	}

	c.registry.MarkEndpointFailure(name)
	return nil, c.retry.MaxAttempts, lastErr
}

// backoffDelay grows the delay exponentially and jitters it so parallel
// stages do not retry in lockstep.
func (c *Client) backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(c.retry.BackoffBase) *
		math.Pow(c.retry.BackoffMultiplier, float64(attempt-1)))
	if d > c.retry.MaxBackoff {
		d = c.retry.MaxBackoff
	}
	jitter := time.Duration((rand.Float64() - 0.5) * 0.5 * float64(d))
	return d + jitter
}

// send executes a single HTTP round trip through the endpoint's provider.
func (c *Client) send(ctx context.Context, ep *model.EndpointConfig, req Request) (*Response, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("no provider registered for %q", ep.Provider))
	}

	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("encode request: %w", err))
	}

	url := provider.BuildURL(ep.URL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	c.logger.Debug("calling model endpoint",
		"provider", ep.Provider,
		"model", ep.Model,
		"messages", len(req.Messages))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("call %s: %w", ep.Provider, err))
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, statusError(httpResp.StatusCode, payload)
	}

	return provider.ParseResponse(payload, ep.Model)
}

// statusError classifies a non-200 reply. Rate limits and server errors
// are worth retrying; everything else points at the request or the
// credentials.
func statusError(code int, body []byte) error {
	detail := string(body)
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	err := fmt.Errorf("endpoint returned %d: %s", code, detail)
	if code == http.StatusTooManyRequests || code >= 500 {
		return NewTransientError(err)
	}
	return NewFatalError(err)
}
