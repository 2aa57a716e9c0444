package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fluxbase-eu/gqlsubs/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "gqlsubs",
		Short: "GraphQL subscriptions over websockets, fed by database writes",
		Long: `gqlsubs pushes database write events to GraphQL subscription clients.

Get started:
  gqlsubs migrate up    Create the schema (postgres only)
  gqlsubs serve         Start the server`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./gqlsubs.yaml, ./config, /etc/gqlsubs)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		setupLogging(cfg, os.Stderr)
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newTokenCmd(load),
		newConfigCmd(load),
		newVersionCmd(),
	)

	return root
}

// setupLogging configures the global zerolog logger. Debug mode uses a
// human readable console writer, otherwise output is JSON.
func setupLogging(cfg *config.Config, out io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.Debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	if cfg.LogLevel != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil && !cfg.Debug {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gqlsubs %s\n", Version)
			fmt.Fprintf(out, "Commit: %s\n", Commit)
			fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
		},
	}
}
