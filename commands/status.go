package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/strataline/policygraph/storage"
)

// workflowStatus is the combined view the status command renders.
type workflowStatus struct {
	Workflow  *storage.Workflow          `json:"workflow"`
	Stages    []storage.WorkflowStageRun `json:"stages"`
	Documents []storage.Document         `json:"documents"`
}

func newStatusCommand(rt *Runtime) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Show a workflow's stage and document progress",
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

			store := app.Store()
			wf, err := store.GetWorkflow(ctx, workflowID)
			if err != nil {
				return err
			}
			stages, err := store.ListStageRuns(ctx, workflowID)
			if err != nil {
				return err
			}
			docs, err := store.ListWorkflowDocuments(ctx, workflowID)
			if err != nil {
				return err
			}

			view := workflowStatus{Workflow: wf, Stages: stages, Documents: docs}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			renderStatus(out, view)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	return cmd
}

func renderStatus(w io.Writer, view workflowStatus) {
	wf := view.Workflow
	fmt.Fprintf(w, "workflow %d  %s  %s\n", wf.ID, wf.WorkflowName, wf.Status)
	if wf.ErrorMessage != "" {
		fmt.Fprintf(w, "error: %s\n", wf.ErrorMessage)
	}
	if wf.StartedAt != nil {
		line := fmt.Sprintf("started %s", wf.StartedAt.Format(time.RFC3339))
		if wf.CompletedAt != nil {
			line += fmt.Sprintf(", finished %s (%s)",
				wf.CompletedAt.Format(time.RFC3339),
				wf.CompletedAt.Sub(*wf.StartedAt).Round(time.Second))
		}
		fmt.Fprintln(w, line)
	}

	if len(view.Stages) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STAGE\tSTATUS\tERROR")
		for _, run := range view.Stages {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", run.StageName, run.Status, run.ErrorMessage)
		}
		tw.Flush()
	}

	if len(view.Documents) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DOCUMENT\tFILENAME\tPAGES\tSTATUS")
		for _, doc := range view.Documents {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", doc.ID, doc.Filename, doc.PageCount, doc.Status)
		}
		tw.Flush()
	}
}
