package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/strataline/policygraph/output/report"
)

func newReportCommand(rt *Runtime) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "report <workflow-id>",
		Short: "Render a workflow's results as a markdown dossier",
		Long: `Report renders everything the pipeline produced for a workflow as
one markdown document: per-document classification and extracted sections,
the resolved entities and relationships, and stage timings.`,
		Args: cobra.ExactArgs(1),
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

			out, err := report.Render(ctx, app.Store(), workflowID)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, []byte(out), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", outPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote report to %s\n", outPath)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to file instead of stdout")

	return cmd
}
