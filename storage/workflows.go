package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateWorkflow inserts a workflow in pending status.
func (s *Store) CreateWorkflow(ctx context.Context, w *Workflow) error {
	if w.WorkflowName == "" {
		return validationErr("workflow name required")
	}
	if w.Status == "" {
		w.Status = WorkflowStatusPending
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO workflows (workflow_definition_id, workflow_name, status, durable_run_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		w.WorkflowDefinitionID, w.WorkflowName, w.Status, w.DurableRunID, w.Metadata,
	).Scan(&w.ID, &w.CreatedAt)
	return mapError("create workflow", err)
}

// GetWorkflow retrieves a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id int64) (*Workflow, error) {
	var w Workflow
	err := s.db.QueryRow(ctx, `
		SELECT id, workflow_definition_id, workflow_name, status, durable_run_id, metadata,
			error_message, created_at, started_at, completed_at
		FROM workflows WHERE id = $1`, id,
	).Scan(&w.ID, &w.WorkflowDefinitionID, &w.WorkflowName, &w.Status, &w.DurableRunID, &w.Metadata,
		&w.ErrorMessage, &w.CreatedAt, &w.StartedAt, &w.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &w, nil
}

// MarkWorkflowRunning transitions a workflow to running and stamps
// started_at once.
func (s *Store) MarkWorkflowRunning(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE workflows SET status = $2, started_at = COALESCE(started_at, now())
		WHERE id = $1`, id, WorkflowStatusRunning)
	if err != nil {
		return mapError("mark workflow running", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishWorkflow records a terminal workflow status.
func (s *Store) FinishWorkflow(ctx context.Context, id int64, status WorkflowStatus, errorMessage string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE workflows SET status = $2, error_message = $3, completed_at = now()
		WHERE id = $1`, id, status, errorMessage)
	if err != nil {
		return mapError("finish workflow", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddWorkflowDocument joins a document to a workflow. Idempotent.
func (s *Store) AddWorkflowDocument(ctx context.Context, workflowID, documentID int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO workflow_documents (workflow_id, document_id)
		VALUES ($1, $2) ON CONFLICT (workflow_id, document_id) DO NOTHING`,
		workflowID, documentID)
	return mapError("add workflow document", err)
}

// ListWorkflowDocuments returns the documents joined to a workflow.
func (s *Store) ListWorkflowDocuments(ctx context.Context, workflowID int64) ([]Document, error) {
	rows, err := s.db.Query(ctx, `
		SELECT d.id, d.filename, d.file_path, d.mime_type, d.page_count, d.status, d.metadata,
			d.created_at, d.updated_at
		FROM documents d
		JOIN workflow_documents wd ON wd.document_id = d.id
		WHERE wd.workflow_id = $1
		ORDER BY d.id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.FilePath, &d.MimeType, &d.PageCount, &d.Status,
			&d.Metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// EnsureStageRuns creates pending aggregate and per-document stage rows for
// every (stage, document) pair. Idempotent: existing rows are untouched.
func (s *Store) EnsureStageRuns(ctx context.Context, workflowID int64, stages []string, documentIDs []int64) error {
	for _, stage := range stages {
		_, err := s.db.Exec(ctx, `
			INSERT INTO workflow_stage_runs (workflow_id, stage_name, status)
			VALUES ($1, $2, $3)
			ON CONFLICT (workflow_id, stage_name) DO NOTHING`,
			workflowID, stage, StageStatusPending)
		if err != nil {
			return mapError("ensure stage run", err)
		}
		for _, docID := range documentIDs {
			_, err := s.db.Exec(ctx, `
				INSERT INTO workflow_document_stage_runs (workflow_id, document_id, stage_name, status)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (workflow_id, document_id, stage_name) DO NOTHING`,
				workflowID, docID, stage, StageStatusPending)
			if err != nil {
				return mapError("ensure document stage run", err)
			}
		}
	}
	return nil
}

const stageRunColumns = `id, workflow_id, stage_name, status, started_at, completed_at,
	error_message, created_at, updated_at`

// GetStageRun retrieves the aggregate row for one stage.
func (s *Store) GetStageRun(ctx context.Context, workflowID int64, stage string) (*WorkflowStageRun, error) {
	var r WorkflowStageRun
	err := s.db.QueryRow(ctx, `
		SELECT `+stageRunColumns+` FROM workflow_stage_runs
		WHERE workflow_id = $1 AND stage_name = $2`, workflowID, stage,
	).Scan(&r.ID, &r.WorkflowID, &r.StageName, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stage run: %w", err)
	}
	return &r, nil
}

// ListStageRuns returns a workflow's aggregate stage rows in creation order.
func (s *Store) ListStageRuns(ctx context.Context, workflowID int64) ([]WorkflowStageRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+stageRunColumns+` FROM workflow_stage_runs
		WHERE workflow_id = $1 ORDER BY id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowStageRun
	for rows.Next() {
		var r WorkflowStageRun
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.StageName, &r.Status, &r.StartedAt, &r.CompletedAt,
			&r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

const docStageRunColumns = `id, workflow_id, document_id, stage_name, status, started_at,
	completed_at, error_message, attempts, created_at, updated_at`

func scanDocStageRun(row pgx.Row) (WorkflowDocumentStageRun, error) {
	var r WorkflowDocumentStageRun
	err := row.Scan(&r.ID, &r.WorkflowID, &r.DocumentID, &r.StageName, &r.Status, &r.StartedAt,
		&r.CompletedAt, &r.ErrorMessage, &r.Attempts, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// GetDocStageRun retrieves one per-document stage row.
func (s *Store) GetDocStageRun(ctx context.Context, workflowID, documentID int64, stage string) (*WorkflowDocumentStageRun, error) {
	r, err := scanDocStageRun(s.db.QueryRow(ctx, `
		SELECT `+docStageRunColumns+` FROM workflow_document_stage_runs
		WHERE workflow_id = $1 AND document_id = $2 AND stage_name = $3`,
		workflowID, documentID, stage))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document stage run: %w", err)
	}
	return &r, nil
}

// ListDocStageRuns returns per-document rows, optionally filtered to one
// stage when stage is non-empty.
func (s *Store) ListDocStageRuns(ctx context.Context, workflowID int64, stage string) ([]WorkflowDocumentStageRun, error) {
	query := `SELECT ` + docStageRunColumns + ` FROM workflow_document_stage_runs WHERE workflow_id = $1`
	args := []any{workflowID}
	if stage != "" {
		query += ` AND stage_name = $2`
		args = append(args, stage)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list document stage runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowDocumentStageRun
	for rows.Next() {
		r, err := scanDocStageRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document stage run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// MarkDocStageRunning transitions a per-document stage row to running.
// started_at keeps the first attempt's timestamp on retries; completed_at
// and error_message are cleared and the attempt counter advances.
func (s *Store) MarkDocStageRunning(ctx context.Context, workflowID, documentID int64, stage string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE workflow_document_stage_runs
		SET status = $4, started_at = COALESCE(started_at, now()), completed_at = NULL,
			error_message = '', attempts = attempts + 1, updated_at = now()
		WHERE workflow_id = $1 AND document_id = $2 AND stage_name = $3`,
		workflowID, documentID, stage, StageStatusRunning)
	if err != nil {
		return mapError("mark document stage running", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDocStageCompleted records per-document stage success.
func (s *Store) MarkDocStageCompleted(ctx context.Context, workflowID, documentID int64, stage string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE workflow_document_stage_runs
		SET status = $4, completed_at = now(), error_message = '', updated_at = now()
		WHERE workflow_id = $1 AND document_id = $2 AND stage_name = $3`,
		workflowID, documentID, stage, StageStatusCompleted)
	if err != nil {
		return mapError("mark document stage completed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDocStageFailed records per-document stage failure.
func (s *Store) MarkDocStageFailed(ctx context.Context, workflowID, documentID int64, stage, errorMessage string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE workflow_document_stage_runs
		SET status = $4, completed_at = now(), error_message = $5, updated_at = now()
		WHERE workflow_id = $1 AND document_id = $2 AND stage_name = $3`,
		workflowID, documentID, stage, StageStatusFailed, errorMessage)
	if err != nil {
		return mapError("mark document stage failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StageCounts summarizes per-document stage rows for one stage.
type StageCounts struct {
	Total     int
	Completed int
	Failed    int
}

// UpdateStageAggregate recomputes the aggregate status of one stage under a
// row-level exclusive lock, so two document completions cannot race the
// read-modify-write. compute maps the counts to the new aggregate status.
func (s *Store) UpdateStageAggregate(ctx context.Context, workflowID int64, stage string, compute func(StageCounts) StageStatus) (StageStatus, error) {
	var status StageStatus
	err := s.WithTx(ctx, func(tx *Store) error {
		var runID int64
		err := tx.db.QueryRow(ctx, `
			SELECT id FROM workflow_stage_runs
			WHERE workflow_id = $1 AND stage_name = $2
			FOR UPDATE`, workflowID, stage).Scan(&runID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock stage run: %w", err)
		}

		var counts StageCounts
		err = tx.db.QueryRow(ctx, `
			SELECT count(*),
				count(*) FILTER (WHERE status = 'completed'),
				count(*) FILTER (WHERE status = 'failed')
			FROM workflow_document_stage_runs
			WHERE workflow_id = $1 AND stage_name = $2`, workflowID, stage,
		).Scan(&counts.Total, &counts.Completed, &counts.Failed)
		if err != nil {
			return fmt.Errorf("count document stage runs: %w", err)
		}

		status = compute(counts)
		_, err = tx.db.Exec(ctx, `
			UPDATE workflow_stage_runs
			SET status = $2,
				started_at = CASE WHEN $2 <> 'pending' THEN COALESCE(started_at, now()) ELSE started_at END,
				completed_at = CASE WHEN $2 IN ('completed', 'partial', 'failed') THEN now() ELSE NULL END,
				updated_at = now()
			WHERE id = $1`, runID, status)
		if err != nil {
			return fmt.Errorf("update stage aggregate: %w", err)
		}
		return nil
	})
	return status, err
}

// AppendRunEvent appends a granular progress event.
func (s *Store) AppendRunEvent(ctx context.Context, e *WorkflowRunEvent) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO workflow_run_events (workflow_id, event_type, document_id, stage_name, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		e.WorkflowID, e.EventType, e.DocumentID, e.StageName, e.Data,
	).Scan(&e.ID, &e.CreatedAt)
	return mapError("append run event", err)
}

// ListRunEventsAfter returns run events with id greater than afterID, in id
// order, so pollers can page through the append-only log.
func (s *Store) ListRunEventsAfter(ctx context.Context, workflowID, afterID int64) ([]WorkflowRunEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, workflow_id, event_type, document_id, stage_name, data, created_at
		FROM workflow_run_events
		WHERE workflow_id = $1 AND id > $2
		ORDER BY id`, workflowID, afterID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var events []WorkflowRunEvent
	for rows.Next() {
		var e WorkflowRunEvent
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.EventType, &e.DocumentID, &e.StageName, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// AddWorkflowEntityScope records a canonical entity as contributed by a
// workflow. No-op on conflict.
func (s *Store) AddWorkflowEntityScope(ctx context.Context, workflowID, canonicalEntityID int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO workflow_entity_scope (workflow_id, canonical_entity_id)
		VALUES ($1, $2) ON CONFLICT (workflow_id, canonical_entity_id) DO NOTHING`,
		workflowID, canonicalEntityID)
	return mapError("add workflow entity scope", err)
}

// AddWorkflowRelationshipScope records a relationship as contributed by a
// workflow. No-op on conflict.
func (s *Store) AddWorkflowRelationshipScope(ctx context.Context, workflowID, relationshipID int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO workflow_relationship_scope (workflow_id, relationship_id)
		VALUES ($1, $2) ON CONFLICT (workflow_id, relationship_id) DO NOTHING`,
		workflowID, relationshipID)
	return mapError("add workflow relationship scope", err)
}

// ListWorkflowEntityScope returns the canonical entity ids contributed by a
// workflow.
func (s *Store) ListWorkflowEntityScope(ctx context.Context, workflowID int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT canonical_entity_id FROM workflow_entity_scope
		WHERE workflow_id = $1 ORDER BY canonical_entity_id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow entity scope: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity scope: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteWorkflowScopedEntities removes canonical entities contributed by
// this workflow that carry no evidence from any other workflow's documents,
// together with the workflow's scope rows. Used by compensation.
func (s *Store) DeleteWorkflowScopedEntities(ctx context.Context, workflowID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM canonical_entities ce
		WHERE ce.id IN (SELECT canonical_entity_id FROM workflow_entity_scope WHERE workflow_id = $1)
		AND NOT EXISTS (
			SELECT 1 FROM entity_evidence ev
			JOIN workflow_documents wd ON wd.document_id = ev.document_id
			WHERE ev.canonical_entity_id = ce.id AND wd.workflow_id <> $1
		)`, workflowID)
	if err != nil {
		return 0, mapError("delete scoped entities", err)
	}
	if _, err := s.db.Exec(ctx, `
		DELETE FROM workflow_entity_scope WHERE workflow_id = $1`, workflowID); err != nil {
		return 0, mapError("delete entity scope", err)
	}
	return tag.RowsAffected(), nil
}
