// Package events derives a typed event stream from persisted workflow run
// state. The stream is poll-based: stage rows and the append-only run event
// log are the source of truth, so a subscriber attaching mid-run replays the
// same history a subscriber attached from the start already saw. Events can
// optionally be mirrored to NATS JetStream for consumers outside the
// process.
package events

import (
	"time"

	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/workflow"
)

// Event is one entry in a workflow's event stream.
type Event struct {
	Type       string         `json:"type"`
	WorkflowID int64          `json:"workflow_id"`
	Stage      string         `json:"stage,omitempty"`
	Status     string         `json:"status,omitempty"`
	DocumentID *int64         `json:"document_id,omitempty"`
	Error      string         `json:"error,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Terminal reports whether e ends its stream.
func (e Event) Terminal() bool {
	return e.Type == workflow.EventWorkflowCompleted || e.Type == workflow.EventWorkflowFailed
}

// stageEvent maps a stage run row to its stream event. Pending rows have not
// transitioned yet and produce nothing.
func stageEvent(run storage.WorkflowStageRun) (Event, bool) {
	e := Event{
		WorkflowID: run.WorkflowID,
		Stage:      run.StageName,
		Status:     string(run.Status),
		Timestamp:  run.UpdatedAt,
	}
	switch run.Status {
	case storage.StageStatusRunning:
		e.Type = workflow.EventStageStarted
	case storage.StageStatusCompleted, storage.StageStatusPartial:
		e.Type = workflow.EventStageCompleted
	case storage.StageStatusFailed:
		e.Type = workflow.EventStageFailed
		e.Error = run.ErrorMessage
	default:
		return Event{}, false
	}
	return e, true
}

// loggedEvent maps a persisted run event to its stream event.
func loggedEvent(re storage.WorkflowRunEvent) Event {
	return Event{
		Type:       re.EventType,
		WorkflowID: re.WorkflowID,
		Stage:      re.StageName,
		DocumentID: re.DocumentID,
		Data:       re.Data,
		Timestamp:  re.CreatedAt,
	}
}

// workflowEvent maps a terminal workflow row to the event that closes the
// stream. Partial counts as completed; the per-stage failures were already
// streamed.
func workflowEvent(wf *storage.Workflow) Event {
	e := Event{
		WorkflowID: wf.ID,
		Status:     string(wf.Status),
		Timestamp:  time.Now().UTC(),
	}
	if wf.CompletedAt != nil {
		e.Timestamp = *wf.CompletedAt
	}
	if wf.Status == storage.WorkflowStatusFailed {
		e.Type = workflow.EventWorkflowFailed
		e.Error = wf.ErrorMessage
	} else {
		e.Type = workflow.EventWorkflowCompleted
	}
	return e
}

// terminalStatus reports whether a workflow status ends the stream.
func terminalStatus(st storage.WorkflowStatus) bool {
	switch st {
	case storage.WorkflowStatusCompleted, storage.WorkflowStatusPartial, storage.WorkflowStatusFailed:
		return true
	}
	return false
}
