package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/app"
	"github.com/Lunyoo/adlibrary-crawler/internal/config"
	"github.com/Lunyoo/adlibrary-crawler/internal/logging"
)

const closeTimeout = 30 * time.Second

type appKeyType struct{}

// newApp is the application factory. It's a variable so tests can swap in
// fixture-backed sessions.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates the root command. Services are built before any
// subcommand runs and closed after it returns, even on error.
func newRootCmd() *cobra.Command {
	var cfgFile string
	var instance *app.App

	cmd := &cobra.Command{
		Use:   "adcrawler",
		Short: "Scrape, deduplicate and rank public ad library listings.",
		Long: `adcrawler drives a browser through public ad library searches, extracts
candidate ads, deduplicates and scores them, and serves the ranked results
over an HTTP API or straight to stdout.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			instance, err = newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, instance))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./adcrawler.yaml)")

	cmd.AddCommand(newServeCmd(), newScrapeCmd())

	// Wrap every subcommand so the services close whatever the outcome.
	for _, sub := range cmd.Commands() {
		run := sub.RunE
		sub.RunE = func(c *cobra.Command, args []string) error {
			runErr := run(c, args)
			if instance == nil {
				return runErr
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Context()), closeTimeout)
			defer cancel()
			closeErr := instance.Close(ctx)
			if syncErr := instance.Logger().Sync(); syncErr != nil && !errors.Is(syncErr, os.ErrInvalid) {
				fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
			}
			return errors.Join(runErr, closeErr)
		}
	}
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	instance, ok := ctx.Value(appKeyType{}).(*app.App)
	if !ok || instance == nil {
		return nil, errors.New("application services not initialized")
	}
	return instance, nil
}
