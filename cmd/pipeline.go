package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/dispatcher"
	"github.com/JakeFAU/listing-crawler/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run every pipeline stage, the requeue schedule and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			if err := app.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			zap.L().Info("shutdown complete")
			return nil
		},
	}
}

// stageBuilder picks one stage's task and idle interval from the App.
type stageBuilder func(ctx context.Context, app *server.App, poll config.PollConfig) (dispatcher.Task, int, error)

func newStageCmd(use, short string, build stageBuilder) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			task, idle, err := build(cmd.Context(), app, rt.cfg.Poll)
			if err != nil {
				return err
			}
			if once {
				n, err := task.RunOnce(cmd.Context())
				if err != nil {
					return fmt.Errorf("%s: %w", use, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d\n", n)
				return nil
			}
			dispatcher.RunLoop(cmd.Context(), dispatcher.Loop{
				Name:         use,
				Task:         task,
				Idle:         config.PollDuration(idle),
				ErrorBackoff: config.PollDuration(rt.cfg.Poll.ErrorBackoffSeconds),
			}, rt.logger.Named(use))
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}

func newScrapeCmd() *cobra.Command {
	return newStageCmd("scrape", "Fetch due queue items and store fetch results",
		func(ctx context.Context, app *server.App, poll config.PollConfig) (dispatcher.Task, int, error) {
			w, err := app.FetchWorker(ctx)
			return w, poll.FetchIdleSeconds, err
		})
}

func newParseCmd() *cobra.Command {
	return newStageCmd("parse", "Extract snapshots from stored fetch results",
		func(_ context.Context, app *server.App, poll config.PollConfig) (dispatcher.Task, int, error) {
			w, err := app.ParseWorker()
			return w, poll.ParseIdleSeconds, err
		})
}

func newDetectChangesCmd() *cobra.Command {
	return newStageCmd("detect-changes", "Diff new snapshots against their predecessors",
		func(ctx context.Context, app *server.App, poll config.PollConfig) (dispatcher.Task, int, error) {
			d, err := app.ChangeDetector(ctx)
			return d, poll.ChangesIdleSeconds, err
		})
}

func newRequeueCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Requeue aged, well-scored listing pages on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			job, err := app.RequeueJob()
			if err != nil {
				return err
			}
			if once {
				n, err := job.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d\n", n)
				return nil
			}
			return job.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "requeue once and exit")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Return queue items stuck in processing to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			n, err := app.Scheduler.RecoverStale(cmd.Context())
			if err != nil {
				return fmt.Errorf("recover stale items: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d\n", n)
			return nil
		},
	}
}
