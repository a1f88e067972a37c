package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/strataline/policygraph/storage"
)

// CallRecord is the full account of one completion, kept for cost review
// and for replaying extraction runs against prompt changes.
type CallRecord struct {
	// Attribution. WorkflowID and DocumentID are nil for calls made
	// outside a pipeline run.
	RequestID  string
	WorkflowID *int64
	DocumentID *int64
	Stage      string
	Capability string

	// Endpoint that actually served the call after fallback.
	Model    string
	Provider string

	Messages []Message
	Response string

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// ContextBudget is the endpoint's context window, when known.
	ContextBudget int

	FinishReason string

	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64

	// Error is empty for successful calls.
	Error string
	// Retries counts extra attempts beyond the first. FallbacksUsed
	// counts models tried before the one that answered.
	Retries       int
	FallbacksUsed int
}

// CallSink persists completed call records. *storage.Store satisfies it.
type CallSink interface {
	RecordLLMCall(ctx context.Context, call *storage.LLMCall) error
}

// CallStore writes call records to a sink.
type CallStore struct {
	sink   CallSink
	logger *slog.Logger
}

// CallStoreOption configures a CallStore.
type CallStoreOption func(*CallStore)

// WithStoreLogger sets the logger used for store diagnostics.
func WithStoreLogger(logger *slog.Logger) CallStoreOption {
	return func(s *CallStore) {
		s.logger = logger
	}
}

// NewCallStore returns a store that records calls through sink.
func NewCallStore(sink CallSink, opts ...CallStoreOption) (*CallStore, error) {
	if sink == nil {
		return nil, errors.New("call sink required")
	}
	s := &CallStore{
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store persists one record. Records without a request ID are rejected
// so history rows stay addressable.
func (s *CallStore) Store(ctx context.Context, rec *CallRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.RequestID == "" {
		return errors.New("call record has no request id")
	}

	status := "completed"
	if rec.Error != "" {
		status = "failed"
	}

	call := &storage.LLMCall{
		RequestID:        rec.RequestID,
		Capability:       rec.Capability,
		Provider:         rec.Provider,
		Model:            rec.Model,
		DocumentID:       rec.DocumentID,
		WorkflowID:       rec.WorkflowID,
		Stage:            rec.Stage,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		DurationMS:       rec.DurationMs,
		Attempts:         rec.Retries + 1,
		Status:           status,
		ErrorMessage:     rec.Error,
	}
	if !rec.CompletedAt.IsZero() {
		done := rec.CompletedAt
		call.CompletedAt = &done
	}

	if err := s.sink.RecordLLMCall(ctx, call); err != nil {
		return fmt.Errorf("record llm call %s: %w", rec.RequestID, err)
	}

	s.logger.Debug("recorded llm call",
		"request_id", rec.RequestID,
		"capability", rec.Capability,
		"model", rec.Model,
		"status", status,
		"duration_ms", rec.DurationMs)
	return nil
}
