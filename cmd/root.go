// Package cmd defines the CLI commands for the site-auditor executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/app"
	"github.com/JakeFAU/site-auditor/internal/config"
	"github.com/JakeFAU/site-auditor/internal/logging"
	"github.com/JakeFAU/site-auditor/internal/telemetry"
)

type appKeyType string

const appKey appKeyType = "app"

// newApp is a variable so tests can swap the service factory.
var newApp = app.New

type rootState struct {
	configPath string
	logger     *zap.Logger
	tracer     *sdktrace.TracerProvider
}

func newRootCmd() *cobra.Command {
	state := &rootState{}
	cmd := &cobra.Command{
		Use:   "site-auditor",
		Short: "Audits the pages of a sitemap for SEO and accessibility issues.",
		Long: `site-auditor resolves a sitemap, fetches every page it lists with bounded
concurrency, scores each page against SEO and accessibility rules, and stores
an aggregate report for the run.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return state.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			state.teardown(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&state.configPath, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	return cmd
}

func (s *rootState) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	s.logger = logger
	zap.ReplaceGlobals(logger)

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(cmd.Context(), cfg.Tracing)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		s.tracer = tp
	}

	appInstance, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
	return nil
}

func (s *rootState) teardown(cmd *cobra.Command) {
	if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
		appInstance.Close()
	}
	if s.tracer != nil {
		if err := s.tracer.Shutdown(context.Background()); err != nil {
			s.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "site-auditor: %v\n", err)
		os.Exit(1)
	}
}
