package main

import (
	"os/signal"
	"syscall"

	"github.com/fluxbase-eu/gqlsubs/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type loader func() (*config.Config, error)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the subscription server",
		Long: `Start the HTTP and websocket server.

With database.driver=postgres pending migrations are applied on startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			log.Info().
				Str("version", Version).
				Str("commit", Commit).
				Str("build_date", BuildDate).
				Msg("Starting gqlsubs")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			return a.run(ctx)
		},
	}
}
