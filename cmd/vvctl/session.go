package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"VelocityVault/sdk/go/velocity"
)

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the backend health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nversion: %s\n", health["status"], health["version"])
			return err
		},
	}
}

func newSessionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage trading mandates",
	}
	cmd.AddCommand(
		newSessionCreateCmd(c),
		newSessionGetCmd(c),
		newSessionRevokeCmd(c),
	)
	return cmd
}

func newSessionCreateCmd(c *cli) *cobra.Command {
	var (
		mandate   velocity.Mandate
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a mandate, revoking the previous one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			mandate.ExpiresAt = time.Now().Add(expiresIn).UTC()
			created, err := client.CreateSession(cmd.Context(), mandate)
			if err != nil {
				return err
			}
			return writeJSON(cmd, created)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&mandate.UserAddress, "user", "", "wallet address")
	flags.StringVar(&mandate.YellowSessionID, "session-id", "", "clearnode session id")
	flags.StringVar(&mandate.MaxTradeSize, "max-trade-size", "", "maximum size of a single trade")
	flags.StringSliceVar(&mandate.AllowedPairs, "pairs", nil, "allowed trading pairs, e.g. ETH/USDC")
	flags.StringVar(&mandate.RiskLevel, "risk", "moderate", "conservative, moderate or aggressive")
	flags.StringVar(&mandate.Signature, "signature", "", "wallet signature over the mandate")
	flags.DurationVar(&expiresIn, "expires-in", 24*time.Hour, "mandate lifetime")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("max-trade-size")
	_ = cmd.MarkFlagRequired("pairs")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func newSessionGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <address>",
		Short: "Show the active mandate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			mandate, err := client.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, mandate)
		},
	}
}

func newSessionRevokeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <address>",
		Short: "Revoke the active mandate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			if err := client.RevokeSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Revoked mandate for %s\n", args[0])
			return err
		},
	}
}
