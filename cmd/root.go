// Package cmd defines the CLI commands of the listingcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/logging"
	"github.com/JakeFAU/listing-crawler/internal/server"
)

// runtimeKeyType is the key for storing the runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries what every subcommand needs. The database backed App is
// built on first use so that commands such as migrate do not open a pool.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    *server.App
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = server.Build

func (r *runtime) App(ctx context.Context) (*server.App, error) {
	if r.app != nil {
		return r.app, nil
	}
	app, err := newApp(ctx, r.cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	r.app = app
	return app, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "listingcrawler",
		Short: "Crawls business listing websites and tracks their contact details.",
		Long: `listingcrawler runs the crawl-to-extraction pipeline for business listings.
Root URLs are queued, fetched politely, parsed into contact snapshots and
compared against earlier observations so that changes can be reported.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			rt, ok := cmd.Context().Value(runtimeKey).(*runtime)
			if !ok || rt == nil {
				return
			}
			if rt.app != nil {
				rt.app.Close(context.WithoutCancel(cmd.Context()))
			}
			_ = rt.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars prefixed CRAWLER_ override it)")

	cmd.AddCommand(
		newServeCmd(),
		newScrapeCmd(),
		newParseCmd(),
		newDetectChangesCmd(),
		newRequeueCmd(),
		newReconcileCmd(),
		newMigrateCmd(),
		newQueueCmd(),
		newBloomCmd(),
		newBlacklistCmd(),
		newDomainCmd(),
	)
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

func resolveApp(cmd *cobra.Command) (*server.App, error) {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return nil, err
	}
	return rt.App(cmd.Context())
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
