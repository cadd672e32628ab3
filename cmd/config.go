package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/OpreaAngel-Freelance/oil-client/internal/config"
)

// loadConfig reads the files, applies .env and process environment
// overrides, and validates the result.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.dotEnvPath != "" {
		if err := config.LoadDotEnv(opts.dotEnvPath); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(opts.configPath, opts.envConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var show bool
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if show {
				redacted := *cfg
				if redacted.Auth.ClientSecret != "" {
					redacted.Auth.ClientSecret = "***"
				}
				if redacted.Session.Redis.Password != "" {
					redacted.Session.Redis.Password = "***"
				}
				out, err := yaml.Marshal(&redacted)
				if err != nil {
					return err
				}
				_, _ = cmd.OutOrStdout().Write(out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK (%s, environment %s)\n", cfg.App.Name, cfg.App.Environment)
			return nil
		},
	}
	check.Flags().BoolVar(&show, "show", false, "print the effective configuration with secrets redacted")

	cmd.AddCommand(check)
	return cmd
}
