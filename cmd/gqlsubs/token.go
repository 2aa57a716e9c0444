package main

import (
	"fmt"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd(load loader) *cobra.Command {
	var userID, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a websocket connection token",
		Long: `Sign a token with auth.jwt_secret for use as ?token= or a bearer header.

Examples:
  gqlsubs token --user 42
  gqlsubs token --user ops --role admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			manager, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}

			token, claims, err := manager.GenerateToken(userID, role)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires: %s\n", claims.ExpiresAt.Time.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id carried in the token")
	cmd.Flags().StringVar(&role, "role", "authenticated", "role carried in the token")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
