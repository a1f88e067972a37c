package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the drop directory and run the pipeline for every bundle",
		Long: `Serve runs the continuous intake loop: bundles dropped into the
configured watch directory are imported, wrapped in a document
understanding workflow, and run through the pipeline. When metrics are
enabled, a Prometheus endpoint is served alongside.

The watch directory comes from watch.dir; serve watches it whether or
not watch.enabled is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app := NewApp(rt)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Close(context.WithoutCancel(ctx))

			intake, err := app.Intake(ctx)
			if err != nil {
				return err
			}

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return intake.Run(groupCtx)
			})
			if collector := app.Collector(); collector != nil {
				addr := rt.Config.Metrics.ListenAddr
				rt.Logger.Info("serving metrics", "addr", addr)
				group.Go(func() error {
					return collector.Serve(groupCtx, addr)
				})
			}

			rt.Logger.Info("intake running", "dir", rt.Config.Watch.Dir)

			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
