package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/metrics"
	"github.com/strataline/policygraph/storage"
)

// Config holds engine tuning.
type Config struct {
	// MaxConcurrentDocuments bounds how many documents run one stage in
	// parallel.
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" json:"max_concurrent_documents"`

	// StageTimeout is the envelope for one document-stage execution,
	// covering all retry attempts.
	StageTimeout time.Duration `yaml:"stage_timeout" json:"stage_timeout"`

	// MaxRetries is the number of additional attempts after a transient
	// failure.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RetryBackoffBase is the initial retry delay.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base" json:"retry_backoff_base"`

	// RetryBackoffMax caps the retry delay.
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max" json:"retry_backoff_max"`
}

// DefaultConfig returns sensible default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentDocuments: 4,
		StageTimeout:           30 * time.Minute,
		MaxRetries:             3,
		RetryBackoffBase:       2 * time.Second,
		RetryBackoffMax:        30 * time.Second,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxConcurrentDocuments < 1 {
		return fmt.Errorf("max_concurrent_documents must be at least 1")
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

// RunStore is the persistence surface the engine drives. *storage.Store
// satisfies it.
type RunStore interface {
	GetWorkflow(ctx context.Context, id int64) (*storage.Workflow, error)
	MarkWorkflowRunning(ctx context.Context, id int64) error
	FinishWorkflow(ctx context.Context, id int64, status storage.WorkflowStatus, errorMessage string) error
	ListWorkflowDocuments(ctx context.Context, workflowID int64) ([]storage.Document, error)
	EnsureStageRuns(ctx context.Context, workflowID int64, stages []string, documentIDs []int64) error
	ListStageRuns(ctx context.Context, workflowID int64) ([]storage.WorkflowStageRun, error)
	GetDocStageRun(ctx context.Context, workflowID, documentID int64, stage string) (*storage.WorkflowDocumentStageRun, error)
	MarkDocStageRunning(ctx context.Context, workflowID, documentID int64, stage string) error
	MarkDocStageCompleted(ctx context.Context, workflowID, documentID int64, stage string) error
	MarkDocStageFailed(ctx context.Context, workflowID, documentID int64, stage, errorMessage string) error
	UpdateStageAggregate(ctx context.Context, workflowID int64, stage string, compute func(storage.StageCounts) storage.StageStatus) (storage.StageStatus, error)
	AppendRunEvent(ctx context.Context, e *storage.WorkflowRunEvent) error
}

// Engine drives workflows through the ordered stage pipeline. Stage
// execution fans out across documents; stages stay strictly ordered per
// document. All progress is persisted, so Run can resume a workflow that a
// previous process left unfinished.
type Engine struct {
	store   RunStore
	stages  map[StageName]Stage
	comps   *Compensations
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConfig overrides the default engine configuration.
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCompensations enables reverse-order rollback on fatal workflow
// failure.
func WithCompensations(comps *Compensations) EngineOption {
	return func(e *Engine) {
		e.comps = comps
	}
}

// WithMetrics attaches the Prometheus collector. Stage and workflow
// durations are recorded per execution.
func WithMetrics(m *metrics.Collector) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine over the given stage implementations. Every
// pipeline stage must be present.
func NewEngine(store RunStore, stages map[StageName]Stage, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	for _, name := range stageOrder {
		if stages[name] == nil {
			return nil, fmt.Errorf("missing stage implementation for %s", name)
		}
	}

	e := &Engine{
		store:  store,
		stages: stages,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return e, nil
}

// Run drives one workflow to a terminal status and returns it. The returned
// error reports infrastructure failures only; document-level failures are
// absorbed into the partial/failed status per the aggregate rule.
func (e *Engine) Run(ctx context.Context, workflowID int64) (storage.WorkflowStatus, error) {
	started := time.Now()

	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", fmt.Errorf("load workflow: %w", err)
	}

	docs, err := e.store.ListWorkflowDocuments(ctx, workflowID)
	if err != nil {
		return "", fmt.Errorf("list workflow documents: %w", err)
	}
	if len(docs) == 0 {
		if err := e.store.FinishWorkflow(ctx, workflowID, storage.WorkflowStatusFailed, "no documents attached"); err != nil {
			return "", fmt.Errorf("finish empty workflow: %w", err)
		}
		e.metrics.ObserveWorkflow(string(storage.WorkflowStatusFailed), time.Since(started))
		return storage.WorkflowStatusFailed, nil
	}

	docIDs := make([]int64, len(docs))
	for i, d := range docs {
		docIDs[i] = d.ID
	}

	if err := e.store.EnsureStageRuns(ctx, workflowID, StageNames(), docIDs); err != nil {
		return "", fmt.Errorf("ensure stage runs: %w", err)
	}
	if err := e.store.MarkWorkflowRunning(ctx, workflowID); err != nil {
		return "", fmt.Errorf("mark workflow running: %w", err)
	}

	e.logger.Info("workflow started",
		"workflow_id", workflowID,
		"workflow_name", wf.WorkflowName,
		"documents", len(docIDs))

	// failed tracks documents knocked out of the pipeline and the stage
	// that knocked them out.
	failed := make(map[int64]StageName)

	for _, stageName := range stageOrder {
		if err := e.runStage(ctx, workflowID, stageName, docIDs, failed); err != nil {
			return "", err
		}
		if len(failed) == len(docIDs) {
			// Nothing left to advance. Later-stage rows for the failed
			// documents were already marked skipped by runStage on the
			// next iterations, so stop here and settle the remainder.
			if err := e.skipRemainingStages(ctx, workflowID, stageName, docIDs, failed); err != nil {
				return "", err
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	status, err := e.finish(ctx, workflowID, docIDs, failed)
	if err == nil {
		e.metrics.ObserveWorkflow(string(status), time.Since(started))
	}
	return status, err
}

// runStage executes one stage across all surviving documents.
func (e *Engine) runStage(ctx context.Context, workflowID int64, stageName StageName, docIDs []int64, failed map[int64]StageName) error {
	stage := e.stages[stageName]

	// Settle rows for documents already knocked out before fanning out.
	for _, docID := range docIDs {
		if at, out := failed[docID]; out {
			msg := fmt.Sprintf("skipped: %s failed", at)
			if err := e.store.MarkDocStageFailed(detachedCtx(ctx), workflowID, docID, stageName.String(), msg); err != nil {
				return fmt.Errorf("skip document stage: %w", err)
			}
		}
	}

	var mu sync.Mutex
	newFailed := make(map[int64]StageName)

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentDocuments)

	for _, docID := range docIDs {
		if _, out := failed[docID]; out {
			continue
		}
		docID := docID
		g.Go(func() error {
			docFailed, err := e.runDocStage(groupCtx, stage, workflowID, docID)
			if err != nil {
				return err
			}
			if docFailed {
				mu.Lock()
				newFailed[docID] = stageName
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("stage %s: %w", stageName, err)
	}
	for docID, at := range newFailed {
		failed[docID] = at
	}

	status, err := e.store.UpdateStageAggregate(detachedCtx(ctx), workflowID, stageName.String(), ComputeStageStatus)
	if err != nil {
		return fmt.Errorf("update %s aggregate: %w", stageName, err)
	}
	e.metrics.StageSettled(stageName.String(), string(status))

	completed := 0
	for _, docID := range docIDs {
		if _, out := failed[docID]; !out {
			completed++
		}
	}
	e.appendProgress(detachedCtx(ctx), workflowID, stageName, status, completed, len(failed), len(docIDs))

	e.logger.Info("stage settled",
		"workflow_id", workflowID,
		"stage", stageName,
		"status", status,
		"completed", completed,
		"failed", len(failed))
	return nil
}

// runDocStage executes one stage for one document, reporting whether the
// document failed. Errors are infrastructure failures only.
func (e *Engine) runDocStage(ctx context.Context, stage Stage, workflowID, documentID int64) (bool, error) {
	name := stage.Name().String()

	existing, err := e.store.GetDocStageRun(ctx, workflowID, documentID, name)
	if err != nil {
		return false, fmt.Errorf("load document stage run: %w", err)
	}
	if existing.Status == storage.StageStatusCompleted {
		return false, nil
	}

	if err := e.store.MarkDocStageRunning(ctx, workflowID, documentID, name); err != nil {
		return false, fmt.Errorf("mark document stage running: %w", err)
	}

	execStart := time.Now()
	runErr := e.runWithRetry(ctx, stage, StageRequest{WorkflowID: workflowID, DocumentID: documentID})
	if runErr == nil {
		e.metrics.ObserveDocumentStage(name, string(storage.StageStatusCompleted), time.Since(execStart))
		if err := e.store.MarkDocStageCompleted(ctx, workflowID, documentID, name); err != nil {
			return false, fmt.Errorf("mark document stage completed: %w", err)
		}
		return false, nil
	}
	e.metrics.ObserveDocumentStage(name, string(storage.StageStatusFailed), time.Since(execStart))

	msg := failureMessage(ctx, runErr, e.cfg.StageTimeout)
	e.logger.Warn("document stage failed",
		"workflow_id", workflowID,
		"document_id", documentID,
		"stage", name,
		"error", runErr)

	if err := e.store.MarkDocStageFailed(detachedCtx(ctx), workflowID, documentID, name, msg); err != nil {
		return true, fmt.Errorf("mark document stage failed: %w", err)
	}
	return true, nil
}

// runWithRetry runs the stage under the stage timeout envelope, retrying
// transient errors with capped exponential backoff.
func (e *Engine) runWithRetry(parent context.Context, stage Stage, req StageRequest) error {
	ctx, cancel := context.WithTimeout(parent, e.cfg.StageTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		err := stage.Run(ctx, req)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !llm.IsTransient(err) || attempt >= e.cfg.MaxRetries {
			return err
		}

		backoff := e.backoff(attempt)
		e.logger.Warn("retrying stage after transient error",
			"stage", stage.Name(),
			"document_id", req.DocumentID,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
	}
}

// backoff computes the capped exponential retry delay with jitter.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.RetryBackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.RetryBackoffMax {
			d = e.cfg.RetryBackoffMax
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// skipRemainingStages settles every stage after the knockout stage once no
// documents survive, so aggregates reach a terminal state.
func (e *Engine) skipRemainingStages(ctx context.Context, workflowID int64, after StageName, docIDs []int64, failed map[int64]StageName) error {
	bg := detachedCtx(ctx)
	for _, stageName := range stageOrder {
		if stageName.Index() <= after.Index() {
			continue
		}
		for _, docID := range docIDs {
			msg := fmt.Sprintf("skipped: %s failed", failed[docID])
			if err := e.store.MarkDocStageFailed(bg, workflowID, docID, stageName.String(), msg); err != nil {
				return fmt.Errorf("skip document stage: %w", err)
			}
		}
		if _, err := e.store.UpdateStageAggregate(bg, workflowID, stageName.String(), ComputeStageStatus); err != nil {
			return fmt.Errorf("settle %s aggregate: %w", stageName, err)
		}
	}
	return nil
}

// finish computes and persists the terminal workflow status.
func (e *Engine) finish(ctx context.Context, workflowID int64, docIDs []int64, failed map[int64]StageName) (storage.WorkflowStatus, error) {
	bg := detachedCtx(ctx)

	runs, err := e.store.ListStageRuns(bg, workflowID)
	if err != nil {
		return "", fmt.Errorf("list stage runs: %w", err)
	}
	surviving := len(docIDs) - len(failed)
	status := ComputeWorkflowStatus(runs, surviving)

	var errorMessage string
	switch {
	case ctx.Err() != nil:
		status = storage.WorkflowStatusFailed
		errorMessage = "cancelled"
	case status == storage.WorkflowStatusFailed:
		errorMessage = "all documents failed"
	case status == storage.WorkflowStatusRunning:
		// Loop exit without a terminal aggregate means an invariant broke.
		status = storage.WorkflowStatusFailed
		errorMessage = "pipeline stopped before stages settled"
	}

	if err := e.store.FinishWorkflow(bg, workflowID, status, errorMessage); err != nil {
		return "", fmt.Errorf("finish workflow: %w", err)
	}

	if status == storage.WorkflowStatusFailed && e.comps != nil {
		if err := e.comps.Run(bg, workflowID, e.logger); err != nil {
			e.logger.Error("compensation incomplete",
				"workflow_id", workflowID,
				"error", err)
		}
	}

	e.logger.Info("workflow finished",
		"workflow_id", workflowID,
		"status", status,
		"surviving_documents", surviving)
	return status, nil
}

// appendProgress writes one granular progress event; event-log failures are
// logged but never fail the stage.
func (e *Engine) appendProgress(ctx context.Context, workflowID int64, stage StageName, status storage.StageStatus, completed, failedCount, total int) {
	err := e.store.AppendRunEvent(ctx, &storage.WorkflowRunEvent{
		WorkflowID: workflowID,
		EventType:  EventWorkflowProgress,
		StageName:  stage.String(),
		Data: map[string]any{
			"stage":     stage.String(),
			"status":    string(status),
			"completed": completed,
			"failed":    failedCount,
			"total":     total,
		},
	})
	if err != nil {
		e.logger.Warn("append progress event failed",
			"workflow_id", workflowID,
			"stage", stage,
			"error", err)
	}
}

// failureMessage maps an execution error to the persisted error_message.
func failureMessage(ctx context.Context, err error, stageTimeout time.Duration) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("stage timeout after %s", stageTimeout)
	}
	return err.Error()
}

// detachedCtx keeps values but survives cancellation, so terminal
// bookkeeping writes land even when the run context is gone.
func detachedCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
