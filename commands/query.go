package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strataline/policygraph/graphrag"
)

func newQueryCommand(rt *Runtime) *cobra.Command {
	var (
		workflowID  int64
		documentIDs []int64
		intent      string
		maxTokens   int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question over a workflow's documents",
		Long: `Query plans the question, retrieves matching sections by vector
similarity, expands through the entity graph, and synthesizes a grounded
answer with page-anchored citations.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if workflowID == 0 {
				return fmt.Errorf("--workflow is required")
			}
			question := strings.Join(args, " ")

			app := NewApp(rt)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Close(ctx)

			retrieval, err := app.Retrieval(ctx)
			if err != nil {
				return err
			}

			resp, err := retrieval.Query(ctx, workflowID, graphrag.QueryRequest{
				Query:            question,
				DocumentIDs:      documentIDs,
				IntentOverride:   intent,
				MaxContextTokens: maxTokens,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			renderAnswer(out, resp)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&workflowID, "workflow", "w", 0, "Workflow to query (required)")
	cmd.Flags().Int64SliceVar(&documentIDs, "document", nil, "Restrict to specific document ids (repeatable)")
	cmd.Flags().StringVar(&intent, "intent", "", "Intent override (qa, analysis, audit, general)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Context token budget override")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")

	return cmd
}

// renderAnswer prints the answer, its sources, and a one-line summary of
// how it was produced.
func renderAnswer(w io.Writer, resp *graphrag.QueryResponse) {
	fmt.Fprintln(w, resp.Answer)

	if len(resp.Sources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, src := range resp.Sources {
			pages := ""
			if src.PageStart > 0 {
				if src.PageEnd > src.PageStart {
					pages = fmt.Sprintf(" pp.%d-%d", src.PageStart, src.PageEnd)
				} else {
					pages = fmt.Sprintf(" p.%d", src.PageStart)
				}
			}
			fmt.Fprintf(w, "  [%d] %s %s%s (score %.2f)\n",
				src.Rank, src.Filename, src.SectionType, pages, src.Score)
		}
	}

	meta := resp.Metadata
	fmt.Fprintln(w)
	fmt.Fprintf(w, "intent=%s vector=%d graph=%d tokens=%d latency=%dms\n",
		meta.Intent, meta.VectorResultsCount, meta.GraphResultsCount,
		meta.TotalContextTokens, meta.LatencyMS)
	if meta.FallbackMode {
		fmt.Fprintln(w, "note: graph expansion unavailable, vector results only")
	}
}
