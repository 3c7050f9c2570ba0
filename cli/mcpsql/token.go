package main

import (
	"fmt"
	"time"

	"github.com/kaz/mcpsql/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token accepted by the HTTP transport",
	Long: `Mint a signed JWT for the /mcp endpoint using the configured secret,
algorithm, issuer and audience.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := auth.New(cfg.Auth)
		if err != nil {
			return err
		}
		token, err := a.GenerateToken(tokenSubject, tokenScopes, tokenTTL)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "subject of the token")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scopes", auth.DefaultScopes, "scopes granted to the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTTL, "lifetime of the token")
	tokenCmd.MarkFlagRequired("sub")
	rootCmd.AddCommand(tokenCmd)
}
