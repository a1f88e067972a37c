package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/strataline/policygraph/storage"
)

func newRunCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Run the document understanding pipeline for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			workflowID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid workflow id %q", args[0])
			}

			app := NewApp(rt)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Close(ctx)

			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}

			status, err := engine.Run(ctx, workflowID)
			if err != nil {
				return fmt.Errorf("workflow %d: %w", workflowID, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "workflow %d finished: %s\n", workflowID, status)
			if status == storage.WorkflowStatusFailed {
				return fmt.Errorf("workflow %d failed", workflowID)
			}
			return nil
		},
	}
}
