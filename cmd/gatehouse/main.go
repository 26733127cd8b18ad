package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/relayspring/gatehouse/internal/auth"
	"github.com/relayspring/gatehouse/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:   "gatehouse",
		Short: "Message admission gateway",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token <operator-id>",
		Short: "Mint an operator JWT for the /ops surface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ttl, err := cmd.Flags().GetDuration("ttl")
			if err != nil {
				return err
			}
			signed, expiresAt, err := auth.GenerateToken(args[0], cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires: %s\n", signed, expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	root.AddCommand(serveCmd, tokenCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
