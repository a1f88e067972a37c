package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestSequenceRunsStepsInOrder(t *testing.T) {
	rec := &recorder{}
	seq := Sequence(StageSummarized,
		&scriptedStage{name: StageSummarized, rec: rec},
		&scriptedStage{name: StageSummarized, rec: rec},
		&scriptedStage{name: StageSummarized, rec: rec},
	)

	if seq.Name() != StageSummarized {
		t.Fatalf("Name() = %s, want summarized", seq.Name())
	}
	if err := seq.Run(context.Background(), StageRequest{WorkflowID: 1, DocumentID: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(rec.ordered()); got != 3 {
		t.Fatalf("ran %d steps, want 3", got)
	}
}

func TestSequenceStopsOnFirstFailure(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	seq := Sequence(StageEnriched,
		&scriptedStage{name: StageEnriched, rec: rec},
		&scriptedStage{name: StageEnriched, rec: rec, run: func(context.Context, StageRequest) error { return boom }},
		&scriptedStage{name: StageEnriched, rec: rec},
	)

	err := seq.Run(context.Background(), StageRequest{WorkflowID: 1, DocumentID: 7})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want wrapped boom", err)
	}
	if got := len(rec.ordered()); got != 2 {
		t.Fatalf("ran %d steps before stopping, want 2", got)
	}
}

func TestSequenceHonorsCancellation(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	seq := Sequence(StageEnriched, &scriptedStage{name: StageEnriched, rec: rec})
	if err := seq.Run(ctx, StageRequest{WorkflowID: 1, DocumentID: 7}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if len(rec.ordered()) != 0 {
		t.Fatal("step ran despite cancelled context")
	}
}
