package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/strataline/policygraph/export"
)

func newExportCommand(rt *Runtime) *cobra.Command {
	var (
		formatName  string
		profileName string
		outPath     string
	)

	cmd := &cobra.Command{
		Use:   "export <workflow-id>",
		Short: "Export a workflow's knowledge graph as RDF",
		Long: `Export serializes a completed workflow's canonical entities and
relationships as RDF. The minimal profile carries the graph itself; the
provenance profile adds source documents, confidences, and derivation
links for audit pipelines.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			workflowID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid workflow id %q", args[0])
			}
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			profile, err := export.ParseProfile(profileName)
			if err != nil {
				return err
			}

			app := NewApp(rt)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Close(ctx)

			exporter, err := export.FromWorkflow(ctx, app.Store(), workflowID, profile)
			if err != nil {
				return err
			}
			output, err := exporter.Export(format)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, []byte(output), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", outPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d nodes to %s\n", exporter.Len(), outPath)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&formatName, "format", "turtle", "Output format (turtle, ntriples, jsonld)")
	cmd.Flags().StringVar(&profileName, "profile", "minimal", "Export profile (minimal, provenance)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to file instead of stdout")

	return cmd
}
