package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/integrations-core/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "integrations-core",
	Short: "OAuth integrations and metrics service",
	Long: `integrations-core connects user accounts at third-party SaaS providers,
keeps their OAuth tokens fresh and serves normalized business metrics.

Without a subcommand it runs the mode named by RUN_MODE (default "all").`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMode(cmd.Context(), "")
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the HTTP API only",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMode(cmd.Context(), config.ModeAPI)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued metrics fetches only",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMode(cmd.Context(), config.ModeWorker)
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Serve the API and process queued fetches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMode(cmd.Context(), config.ModeAll)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("integrations-core version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(apiCmd, workerCmd, allCmd, versionCmd)
}

// runMode loads configuration and runs until SIGINT or SIGTERM. An empty
// mode keeps RUN_MODE.
func runMode(parent context.Context, mode string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.RunMode = mode
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	logger.Info("integrations-core starting", "version", version, "mode", cfg.RunMode)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.run(ctx)
}
