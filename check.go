package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/drive"
	"github.com/drivewatch/drivewatch/internal/pipeline"
)

func newCheckCmd() *cobra.Command {
	var ping bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		Long:  "Loads and validates the configuration, prints the resulting pollers and sinks, and optionally verifies the Drive credentials.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, ping)
		},
	}

	cmd.Flags().BoolVar(&ping, "ping", false, "verify Drive credentials with an API call")

	return cmd
}

func runCheck(cmd *cobra.Command, ping bool) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Config: %s\n", cfgPath)
	fmt.Fprintf(out, "State:  %s\n", orNone(cfg.State.Path))

	for _, pc := range cfg.Pollers {
		fmt.Fprintf(out, "\nPoller %q (interval %s, delay %s)\n",
			pc.Name,
			config.Duration(pc.PollingInterval, config.DefaultPollingInterval),
			config.Duration(pc.PollingDelay, config.DefaultPollingDelay),
		)

		for _, t := range pc.Targets {
			target := pipeline.ParseTarget(t)
			fmt.Fprintf(out, "  target %s -> %s\n", target.FolderID, target.RootPath)
		}

		for _, sc := range pc.Sinks {
			buffered := ""

			iv := sc.BufferInterval
			if iv == "" {
				iv = pc.BufferInterval
			}

			if d := config.Duration(iv, 0); d > 0 {
				buffered = fmt.Sprintf(" (buffered %s)", d)
			}

			fmt.Fprintf(out, "  sink %s [%s]%s\n", sc.Name, sc.Type, buffered)
		}
	}

	if ping {
		logger, err := buildLogger(cfg.Logging)
		if err != nil {
			return err
		}

		client, err := drive.NewClient(cmd.Context(), cfg.Drive, logger)
		if err != nil {
			return err
		}

		if err := client.Ping(cmd.Context()); err != nil {
			return err
		}

		fmt.Fprintln(out, "\nDrive credentials OK")
	}

	fmt.Fprintln(out, "\nConfiguration valid")

	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}

	return s
}
