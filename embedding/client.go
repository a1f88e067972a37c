// Package embedding provides a client for the sentence-transformer sidecar
// that turns text into fixed-width vectors. Vectors are cached in Redis keyed
// by content hash so re-indexing unchanged text never re-encodes it, and the
// sidecar sits behind a circuit breaker so a dead embedding service degrades
// retrieval instead of hanging it.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/strataline/policygraph/metrics"
)

// maxResponseSize limits the embedding response body.
const maxResponseSize = 64 * 1024 * 1024 // 64MB

// Client encodes text through the embedding sidecar.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *redis.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithCache enables Redis-backed vector caching.
func WithCache(r *redis.Client) Option {
	return func(c *Client) {
		c.cache = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics attaches the Prometheus collector. Each sidecar batch is
// counted with its latency; cache hits are not.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates an embedding client for the given configuration.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("embedding config: %w", err)
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-service",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Embedding circuit state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return c, nil
}

// Model returns the configured embedding model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Dimensions returns the configured vector width.
func (c *Client) Dimensions() int {
	return c.cfg.Dimensions
}

// EncodeOne embeds a single text.
func (c *Client) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Encode embeds the given texts, preserving order. Cached vectors are
// served from Redis; only misses are sent to the sidecar, in batches of
// at most Config.BatchSize.
func (c *Client) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))

	// Collect cache misses
	var missIdx []int
	if c.cache != nil {
		for i, text := range texts {
			vec, ok := c.cacheGet(ctx, text)
			if ok {
				vectors[i] = vec
			} else {
				missIdx = append(missIdx, i)
			}
		}
	} else {
		missIdx = make([]int, len(texts))
		for i := range texts {
			missIdx[i] = i
		}
	}

	if len(missIdx) == 0 {
		return vectors, nil
	}

	// Encode misses in batches
	for start := 0; start < len(missIdx); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		batchTexts := make([]string, len(batch))
		for i, idx := range batch {
			batchTexts[i] = texts[idx]
		}

		batchStart := time.Now()
		encoded, err := c.encodeBatch(ctx, batchTexts)
		c.metrics.ObserveEmbedding(err == nil, len(batchTexts), time.Since(batchStart))
		if err != nil {
			return nil, err
		}

		for i, idx := range batch {
			vectors[idx] = encoded[i]
			if c.cache != nil {
				c.cachePut(ctx, texts[idx], encoded[i])
			}
		}
	}

	return vectors, nil
}

// embedRequest is the sidecar request format.
type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

// embedResponse is the sidecar response format.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model,omitempty"`
}

// encodeBatch sends one batch through the circuit breaker.
func (c *Client) encodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doEncode(ctx, texts)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("embedding service unavailable: %w", err)
		}
		return nil, err
	}
	return result.([][]float32), nil
}

// doEncode executes a single HTTP request to the sidecar.
func (c *Client) doEncode(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts, Model: c.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.ServiceURL, "/") + "/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		preview := string(respBody)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, fmt.Errorf("embedding service error (status %d): %s", resp.StatusCode, preview)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(parsed.Embeddings))
	}

	for i, vec := range parsed.Embeddings {
		if len(vec) != c.cfg.Dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch at index %d: got %d, want %d", i, len(vec), c.cfg.Dimensions)
		}
	}

	return parsed.Embeddings, nil
}

// cacheKey derives the Redis key for a text. Keyed by model and content
// hash so a model change never serves stale vectors.
func (c *Client) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.cfg.Model + ":" + hex.EncodeToString(sum[:])
}

// cacheGet looks up a cached vector. Cache errors are logged, not returned;
// a broken cache degrades to re-encoding.
func (c *Client) cacheGet(ctx context.Context, text string) ([]float32, bool) {
	data, err := c.cache.Get(ctx, c.cacheKey(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("Embedding cache read failed", "error", err)
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false
	}
	if len(vec) != c.cfg.Dimensions {
		return nil, false
	}
	return vec, true
}

// cachePut stores a vector. Failures are logged, not returned.
func (c *Client) cachePut(ctx context.Context, text string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.cacheKey(text), data, c.cfg.CacheTTL).Err(); err != nil {
		c.logger.Debug("Embedding cache write failed", "error", err)
	}
}
