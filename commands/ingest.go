package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/workflow"
)

func newIngestCommand(rt *Runtime) *cobra.Command {
	var (
		workflowName string
		runPipeline  bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <bundle>...",
		Short: "Import document bundles and register a workflow",
		Long: `Ingest imports one or more OCR artifact bundles (a document.json
manifest or a *.bundle.json file each), registers them under a new
document understanding workflow, and optionally runs the pipeline.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			app := NewApp(rt)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Close(ctx)

			importer, err := app.Importer()
			if err != nil {
				return err
			}

			var docs []storage.Document
			for _, path := range args {
				doc, err := importer.ImportPath(ctx, path)
				if err != nil {
					return fmt.Errorf("import %s: %w", path, err)
				}
				docs = append(docs, *doc)
				fmt.Fprintf(out, "imported %s as document %d (%d pages)\n", path, doc.ID, doc.PageCount)
			}

			if workflowName == "" {
				workflowName = filepath.Base(args[0])
			}
			wf := &storage.Workflow{
				WorkflowDefinitionID: workflow.DefinitionDocumentUnderstanding,
				WorkflowName:         workflowName,
				Status:               storage.WorkflowStatusPending,
			}
			if err := app.Store().CreateWorkflow(ctx, wf); err != nil {
				return fmt.Errorf("create workflow: %w", err)
			}
			for _, doc := range docs {
				if err := app.Store().AddWorkflowDocument(ctx, wf.ID, doc.ID); err != nil {
					return fmt.Errorf("attach document %d: %w", doc.ID, err)
				}
			}
			fmt.Fprintf(out, "created workflow %d (%s) with %d documents\n", wf.ID, workflowName, len(docs))

			if !runPipeline {
				fmt.Fprintf(out, "run it with: policygraph run %d\n", wf.ID)
				return nil
			}

			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			status, err := engine.Run(ctx, wf.ID)
			if err != nil {
				return fmt.Errorf("workflow %d: %w", wf.ID, err)
			}
			fmt.Fprintf(out, "workflow %d finished: %s\n", wf.ID, status)
			if status == storage.WorkflowStatusFailed {
				return fmt.Errorf("workflow %d failed", wf.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowName, "name", "", "Workflow name (defaults to the first bundle's filename)")
	cmd.Flags().BoolVar(&runPipeline, "run", false, "Run the pipeline after importing")

	return cmd
}
