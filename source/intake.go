package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/workflow"
)

// Runner executes one workflow to completion. *workflow.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, workflowID int64) (storage.WorkflowStatus, error)
}

// IntakeStore is the persistence surface intake needs beyond the importer's.
// *storage.Store satisfies it.
type IntakeStore interface {
	CreateWorkflow(ctx context.Context, w *storage.Workflow) error
	AddWorkflowDocument(ctx context.Context, workflowID, documentID int64) error
}

// Intake ties the watcher, the importer, and the engine together: every
// bundle dropped into the watch directory becomes a document with its own
// workflow, run to completion before the next bundle is taken.
type Intake struct {
	watcher  *Watcher
	importer *Importer
	store    IntakeStore
	runner   Runner
	logger   *slog.Logger
}

// NewIntake builds the intake service.
func NewIntake(watcher *Watcher, importer *Importer, store IntakeStore, runner Runner, logger *slog.Logger) (*Intake, error) {
	if watcher == nil || importer == nil {
		return nil, fmt.Errorf("intake requires a watcher and an importer")
	}
	if store == nil {
		return nil, fmt.Errorf("intake requires a store")
	}
	if runner == nil {
		return nil, fmt.Errorf("intake requires a workflow runner")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		watcher:  watcher,
		importer: importer,
		store:    store,
		runner:   runner,
		logger:   logger,
	}, nil
}

// Run starts the watcher and consumes its events until ctx ends or the
// watcher is stopped. A bad bundle is logged and skipped; intake never dies
// to a single malformed drop.
func (in *Intake) Run(ctx context.Context) error {
	if err := in.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer in.watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in.watcher.Events():
			if !ok {
				return nil
			}
			in.handle(ctx, ev)
		}
	}
}

// handle imports one bundle and runs its workflow.
func (in *Intake) handle(ctx context.Context, ev WatchEvent) {
	doc, err := in.importer.ImportPath(ctx, ev.AbsPath)
	if err != nil {
		if errors.Is(err, storage.ErrValidation) {
			// A partially written bundle lands here too; the writer's next
			// change re-fires the event and the import is retried.
			in.logger.Warn("rejected bundle", "path", ev.Path, "error", err)
			return
		}
		in.logger.Error("bundle import failed", "path", ev.Path, "error", err)
		return
	}

	wf := &storage.Workflow{
		WorkflowDefinitionID: workflow.DefinitionDocumentUnderstanding,
		WorkflowName:         doc.Filename,
		Status:               storage.WorkflowStatusPending,
		Metadata:             map[string]any{"source_path": ev.Path},
	}
	if err := in.store.CreateWorkflow(ctx, wf); err != nil {
		in.logger.Error("create workflow failed", "document_id", doc.ID, "error", err)
		return
	}
	if err := in.store.AddWorkflowDocument(ctx, wf.ID, doc.ID); err != nil {
		in.logger.Error("attach document failed",
			"workflow_id", wf.ID,
			"document_id", doc.ID,
			"error", err)
		return
	}

	in.logger.Info("intake workflow starting",
		"workflow_id", wf.ID,
		"document_id", doc.ID,
		"filename", doc.Filename)

	status, err := in.runner.Run(ctx, wf.ID)
	if err != nil {
		in.logger.Error("intake workflow errored", "workflow_id", wf.ID, "error", err)
		return
	}
	in.logger.Info("intake workflow finished", "workflow_id", wf.ID, "status", status)
}
