package main

import (
	"github.com/fluxbase-eu/gqlsubs/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// redacted replaces secrets in printed configuration
const redacted = "[redacted]"

func newConfigCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  `Print the configuration after merging defaults, the config file and environment variables. Secrets are redacted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(2)
			if err := encoder.Encode(printable(cfg)); err != nil {
				return err
			}
			return encoder.Close()
		},
	}
}

// printable returns a copy of cfg safe to show
func printable(cfg *config.Config) config.Config {
	out := *cfg
	if out.Database.Password != "" {
		out.Database.Password = redacted
	}
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = redacted
	}
	if out.Scaling.RedisURL != "" {
		out.Scaling.RedisURL = redacted
	}
	return out
}
