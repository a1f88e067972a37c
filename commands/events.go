package commands

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

func newEventsCommand(rt *Runtime) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "events <workflow-id>",
		Short: "Stream a workflow's events until it finishes",
		Long: `Events follows one workflow: stage transitions, per-document
progress, and the terminal event. The stream ends when the workflow
completes or fails. With a NATS URL configured, every event is also
mirrored to JetStream.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			workflowID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid workflow id %q", args[0])
			}

			app := NewApp(rt)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Close(ctx)

			streamer, err := app.Streamer(ctx)
			if err != nil {
				return err
			}
			ch, err := streamer.Watch(ctx, workflowID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for ev := range ch {
				if asJSON {
					if err := enc.Encode(ev); err != nil {
						return err
					}
					continue
				}
				line := fmt.Sprintf("%s  %s", ev.Timestamp.Format("15:04:05"), ev.Type)
				if ev.Stage != "" {
					line += "  stage=" + ev.Stage
				}
				if ev.DocumentID != nil {
					line += fmt.Sprintf("  document=%d", *ev.DocumentID)
				}
				if ev.Status != "" {
					line += "  status=" + ev.Status
				}
				if ev.Error != "" {
					line += "  error=" + ev.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON lines")

	return cmd
}
