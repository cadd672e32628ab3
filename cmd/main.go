package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath    string
	envConfigPath string
	dotEnvPath    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "oil-bff",
		Short: "Backend-for-frontend for the oil catalog",
		Long: `oil-bff keeps OAuth2 credentials server-side, refreshes them on demand and
proxies browser calls to the oil backend API with a bearer token.

Environment Variables:
  CONFIG_PATH          Base YAML configuration (default: config/config.yaml)
  ENV_CONFIG_PATH      Optional environment overlay merged over the base file
  KEYCLOAK_ISSUER      Realm issuer URL
  BACKEND_API_URL      Backend API base URL`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", envOr("CONFIG_PATH", "config/config.yaml"), "base configuration file")
	root.PersistentFlags().StringVar(&opts.envConfigPath, "env-config", os.Getenv("ENV_CONFIG_PATH"), "environment overlay configuration file")
	root.PersistentFlags().StringVar(&opts.dotEnvPath, "dotenv", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newTokenCmd())
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
