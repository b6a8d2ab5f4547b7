package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"fleetpulse/internal/app"
	"fleetpulse/internal/clock"
	"fleetpulse/internal/config"

	"github.com/spf13/cobra"
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// main starts the fleetpulse backend using file or directory config source.
// Params: CLI subcommand and flags (--config-file or --config-dir).
// Returns: process exit code by startup/run result.
func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configFile, configDir string

	root := &cobra.Command{
		Use:   "fleetpulse",
		Short: "Fleet operational timeline and alert lifecycle backend",
		Long: `fleetpulse serves the operational timeline, alert triage and alert lifecycle API
for a fleet of machines and their tires.

Examples:
  fleetpulse serve --config-file /etc/fleetpulse/fleetpulse.toml
  fleetpulse serve --config-dir /etc/fleetpulse/conf.d
  fleetpulse validate --config-file fleetpulse.toml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&configFile, "config-file", "", "path to one TOML config file")
	root.PersistentFlags().StringVar(&configDir, "config-dir", "", "path to directory with TOML config fragments")

	loadSource := func() (config.ConfigSource, error) {
		source, err := config.FromCLI(configFile, configDir)
		if err != nil {
			return config.ConfigSource{}, &exitError{code: 2, err: err}
		}
		return source, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime subscriptions and auto refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := loadSource()
			if err != nil {
				return err
			}
			service, err := app.NewService(source, clock.RealClock{})
			if err != nil {
				return fmt.Errorf("service init failed: %w", err)
			}
			if err := service.Run(cmd.Context()); err != nil {
				return fmt.Errorf("service run failed: %w", err)
			}
			return nil
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate configuration, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := loadSource()
			if err != nil {
				return err
			}
			cfg, err := config.LoadSnapshot(source)
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok: store=%s cache=%s realtime=%s tables=%v\n",
				cfg.Store.Driver, cfg.Cache.Driver, cfg.Realtime.Driver, cfg.WatchedTables())
			return err
		},
	}

	root.AddCommand(serve, validate)
	root.SetContext(context.Background())
	return root
}
