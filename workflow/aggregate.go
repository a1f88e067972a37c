package workflow

import "github.com/strataline/policygraph/storage"

// ComputeStageStatus maps per-document stage counts to the aggregate stage
// status. With N total documents, c completed and f failed:
//
//	c == N            -> completed
//	c+f == N && f > 0 -> partial
//	otherwise         -> running
//
// An all-failed stage is partial at the aggregate level; whether the
// workflow as a whole has failed is decided by ComputeWorkflowStatus.
func ComputeStageStatus(counts storage.StageCounts) storage.StageStatus {
	if counts.Total > 0 && counts.Completed == counts.Total {
		return storage.StageStatusCompleted
	}
	if counts.Completed+counts.Failed == counts.Total && counts.Failed > 0 {
		return storage.StageStatusPartial
	}
	return storage.StageStatusRunning
}

// ComputeWorkflowStatus folds aggregate stage rows into a workflow status:
// completed when every stage completed, failed when no document survived to
// the final stage, partial when any stage settled partial, running
// otherwise.
func ComputeWorkflowStatus(runs []storage.WorkflowStageRun, surviving int) storage.WorkflowStatus {
	if len(runs) == 0 {
		return storage.WorkflowStatusPending
	}
	if surviving == 0 {
		return storage.WorkflowStatusFailed
	}

	allCompleted := true
	anyPartial := false
	for _, run := range runs {
		switch run.Status {
		case storage.StageStatusCompleted:
		case storage.StageStatusPartial:
			anyPartial = true
			allCompleted = false
		default:
			return storage.WorkflowStatusRunning
		}
	}
	if allCompleted {
		return storage.WorkflowStatusCompleted
	}
	if anyPartial {
		return storage.WorkflowStatusPartial
	}
	return storage.WorkflowStatusRunning
}
