package workflow

import (
	"context"
	"fmt"
)

// Sequence composes sub-steps that share one pipeline stage into a single
// Stage. Steps run in order for each document; the first failure stops the
// sequence and fails the whole stage for that document.
func Sequence(name StageName, steps ...Stage) Stage {
	return &sequence{name: name, steps: steps}
}

type sequence struct {
	name  StageName
	steps []Stage
}

func (s *sequence) Name() StageName { return s.name }

func (s *sequence) Run(ctx context.Context, req StageRequest) error {
	for i, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Run(ctx, req); err != nil {
			return fmt.Errorf("step %d/%d: %w", i+1, len(s.steps), err)
		}
	}
	return nil
}
