package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpreaAngel-Freelance/oil-client/internal/token"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Access token diagnostics",
	}

	decode := &cobra.Command{
		Use:   "decode [token]",
		Short: "Print the roles and expiry carried by an access token",
		Long: `decode reads the claims of an access token without verifying its signature.
The token is taken from the argument or, when absent, from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := tokenInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			claims, err := token.Decode(raw)
			if err != nil {
				return err
			}

			out := struct {
				*token.Claims
				Expires string `json:"expires"`
				Expired bool   `json:"expired"`
			}{Claims: claims}
			if claims.ExpiresAt > 0 {
				exp := time.Unix(claims.ExpiresAt, 0).UTC()
				out.Expires = exp.Format(time.RFC3339)
				out.Expired = !time.Now().Before(exp)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.AddCommand(decode)
	return cmd
}

func tokenInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	b, err := io.ReadAll(io.LimitReader(stdin, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return "", errors.New("no token given")
	}
	return raw, nil
}
