package main

import (
	"context"
	"fmt"

	"github.com/fluxbase-eu/gqlsubs/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: `Apply or roll back the embedded migrations.

The sqlite store creates its schema on open and needs no migrations.`,
	}

	connect := func(ctx context.Context) (*database.Connection, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		if cfg.Database.Driver != "postgres" {
			return nil, fmt.Errorf("migrations require database driver 'postgres', got %q", cfg.Database.Driver)
		}
		return database.NewConnection(ctx, cfg.Database)
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Migrate()
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return db.MigrateDown(steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Show the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			v, dirty, err := db.MigrationVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version: %d\ndirty: %t\n", v, dirty)
			return nil
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}
