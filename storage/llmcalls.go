package storage

import (
	"context"
	"fmt"
)

// RecordLLMCall persists one model invocation keyed by request id. Repeat
// writes for the same request id update the record, so retry loops can
// record attempts incrementally.
func (s *Store) RecordLLMCall(ctx context.Context, c *LLMCall) error {
	if c.RequestID == "" {
		return validationErr("llm call request_id required")
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO llm_calls (request_id, capability, provider, model, document_id, workflow_id,
			stage, prompt_tokens, completion_tokens, total_tokens, duration_ms, attempts,
			status, error_message, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (request_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens,
			total_tokens = EXCLUDED.total_tokens,
			duration_ms = EXCLUDED.duration_ms,
			attempts = EXCLUDED.attempts,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at
		RETURNING id, created_at`,
		c.RequestID, c.Capability, c.Provider, c.Model, c.DocumentID, c.WorkflowID,
		c.Stage, c.PromptTokens, c.CompletionTokens, c.TotalTokens, c.DurationMS, c.Attempts,
		c.Status, c.ErrorMessage, c.CompletedAt,
	).Scan(&c.ID, &c.CreatedAt)
	return mapError("record llm call", err)
}

// GetLLMCall retrieves one call record by request id.
func (s *Store) GetLLMCall(ctx context.Context, requestID string) (*LLMCall, error) {
	var c LLMCall
	err := s.db.QueryRow(ctx, `
		SELECT id, request_id, capability, provider, model, document_id, workflow_id, stage,
			prompt_tokens, completion_tokens, total_tokens, duration_ms, attempts,
			status, error_message, created_at, completed_at
		FROM llm_calls WHERE request_id = $1`, requestID,
	).Scan(&c.ID, &c.RequestID, &c.Capability, &c.Provider, &c.Model, &c.DocumentID, &c.WorkflowID,
		&c.Stage, &c.PromptTokens, &c.CompletionTokens, &c.TotalTokens, &c.DurationMS, &c.Attempts,
		&c.Status, &c.ErrorMessage, &c.CreatedAt, &c.CompletedAt)
	if err != nil {
		return nil, mapNotFound("get llm call", err)
	}
	return &c, nil
}

// ListLLMCallsByWorkflow returns a workflow's call records, newest first.
func (s *Store) ListLLMCallsByWorkflow(ctx context.Context, workflowID int64, limit int) ([]LLMCall, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, request_id, capability, provider, model, document_id, workflow_id, stage,
			prompt_tokens, completion_tokens, total_tokens, duration_ms, attempts,
			status, error_message, created_at, completed_at
		FROM llm_calls WHERE workflow_id = $1
		ORDER BY created_at DESC LIMIT $2`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list llm calls: %w", err)
	}
	defer rows.Close()

	var calls []LLMCall
	for rows.Next() {
		var c LLMCall
		if err := rows.Scan(&c.ID, &c.RequestID, &c.Capability, &c.Provider, &c.Model, &c.DocumentID,
			&c.WorkflowID, &c.Stage, &c.PromptTokens, &c.CompletionTokens, &c.TotalTokens,
			&c.DurationMS, &c.Attempts, &c.Status, &c.ErrorMessage, &c.CreatedAt, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan llm call: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
