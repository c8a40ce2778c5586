// Package cmd defines the CLI commands of the engagement executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/app"
	"github.com/JakeFAU/engagement-analytics/internal/config"
	"github.com/JakeFAU/engagement-analytics/internal/logging"
	"github.com/JakeFAU/engagement-analytics/internal/replay"
)

// App is the subset of *app.App the commands use. Tests inject fakes.
type App interface {
	Logger() *zap.Logger
	Handler() http.Handler
	Replay(ctx context.Context, signals []replay.Signal, seed string) (replay.Summary, error)
	Close(ctx context.Context) error
}

type runtimeKey struct{}

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg config.Config
	app App
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "engagement",
		Short: "Engagement analytics ingest and replay service.",
		Long: `engagement turns page-load signals (navigation, article reads, scroll
depth, dwell time and clicks) into a normalized event stream, filters out
likely bots and fans the events out to the configured sinks.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{cfg: cfg, app: appInstance}))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), rt.cfg.Server.ShutdownGrace())
			defer cancel()
			if err := rt.app.Close(ctx); err != nil {
				return fmt.Errorf("close application: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); ENGAGEMENT_* env vars override it")
	cmd.AddCommand(newServeCmd(), newReplayCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil || rt.app == nil {
		return nil, errors.New("application not initialized")
	}
	return rt, nil
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
