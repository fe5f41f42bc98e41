package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// newRootCmd builds the fully-assembled root command. Called once from
// main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drivewatch",
		Short:   "Google Drive change watcher",
		Long:    "Watches Google Drive folders for changes and dispatches them to rclone mounts, media libraries, webhooks, and local commands.",
		Version: version,
		// Silence Cobra's default error/usage printing, main() reports errors.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "drivewatch", version)
		},
	})

	return cmd
}

// loadConfig loads and validates the configuration from --config or the
// default search path.
func loadConfig() (*config.Config, string, error) {
	cfg, path, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}

	return cfg, path, nil
}

// buildLogger creates the redacting slog.Logger from the config, with
// --verbose and --quiet overriding the configured level because CLI
// flags always win.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	if flagVerbose {
		cfg.Level = "debug"
	}

	if flagQuiet {
		cfg.Level = "error"
	}

	return logging.New(cfg)
}
