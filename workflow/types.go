// Package workflow provides the durable stage engine that advances documents
// through the processing pipeline. All engine state is derived from persisted
// stage-run rows, so a restarted process resumes from wherever the database
// says it left off.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strataline/policygraph/embedding"
	"github.com/strataline/policygraph/graphstore"
	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/metrics"
	"github.com/strataline/policygraph/model"
	"github.com/strataline/policygraph/storage"
)

// DefinitionDocumentUnderstanding identifies the standard five-stage
// document understanding pipeline on workflow rows.
const DefinitionDocumentUnderstanding = "document_understanding_v1"

// StageName identifies one pipeline stage.
type StageName string

const (
	// StageProcessed indicates raw text, pages, chunks, and OCR tokens have
	// been imported and verified.
	StageProcessed StageName = "processed"
	// StageClassified indicates the document type has been determined.
	StageClassified StageName = "classified"
	// StageExtracted indicates structured section extraction has run.
	StageExtracted StageName = "extracted"
	// StageEnriched indicates canonical entities and relationships exist.
	StageEnriched StageName = "enriched"
	// StageSummarized indicates embeddings, graph projection, and citations
	// have been produced.
	StageSummarized StageName = "summarized"
)

// stageOrder is the fixed execution order. Stages run strictly in this
// order per document.
var stageOrder = []StageName{
	StageProcessed,
	StageClassified,
	StageExtracted,
	StageEnriched,
	StageSummarized,
}

// StageOrder returns the pipeline stages in execution order.
func StageOrder() []StageName {
	out := make([]StageName, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// StageNames returns the ordered stage names as plain strings for
// repository calls.
func StageNames() []string {
	out := make([]string, len(stageOrder))
	for i, s := range stageOrder {
		out[i] = string(s)
	}
	return out
}

// String returns the string representation of the stage name.
func (s StageName) String() string {
	return string(s)
}

// IsValid returns true if the stage name is a known pipeline stage.
func (s StageName) IsValid() bool {
	switch s {
	case StageProcessed, StageClassified, StageExtracted, StageEnriched, StageSummarized:
		return true
	default:
		return false
	}
}

// Index returns the position of the stage in execution order, or -1 for an
// unknown stage.
func (s StageName) Index() int {
	for i, name := range stageOrder {
		if name == s {
			return i
		}
	}
	return -1
}

// Next returns the stage following s, and false when s is the last stage or
// unknown.
func (s StageName) Next() (StageName, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[i+1], true
}

// Run event types appended to the workflow_run_events log and surfaced by
// the event stream.
const (
	EventHeartbeat         = "heartbeat"
	EventWorkflowProgress  = "workflow_progress"
	EventStageStarted      = "stage_started"
	EventStageCompleted    = "stage_completed"
	EventStageFailed       = "stage_failed"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"
)

// StageRequest carries the identifiers for one document-stage execution.
type StageRequest struct {
	WorkflowID int64
	DocumentID int64
}

// Stage executes one pipeline stage for a single document. Implementations
// must be safe for concurrent Run calls across documents and must honor
// context cancellation between batched calls and before repository writes.
type Stage interface {
	// Name returns the stage this implementation serves.
	Name() StageName

	// Run executes the stage for one document. A nil return marks the
	// document-stage completed; any error marks it failed.
	Run(ctx context.Context, req StageRequest) error
}

// Deps bundles the shared services stage implementations draw on. Graph is
// nil when graph projection is disabled; Metrics is nil when no collector
// is mounted, and recording on a nil collector is a no-op.
type Deps struct {
	Store    *storage.Store
	LLM      *llm.Client
	Models   *model.Registry
	Embedder *embedding.Client
	Graph    *graphstore.Store
	Logger   *slog.Logger
	Metrics  *metrics.Collector
}

// GetLogger returns the configured logger, falling back to the default.
func (d Deps) GetLogger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Validate checks that the dependencies every stage requires are present.
func (d Deps) Validate() error {
	if d.Store == nil {
		return fmt.Errorf("store is required")
	}
	return nil
}
