package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newENSCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ens",
		Short: "Manage ENS reputation records",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "register <address> <name>",
			Short: "Bind an ENS name to a wallet",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := c.client()
				if err != nil {
					return err
				}
				user, err := client.RegisterENS(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Registered %s for %s\n", user.ENSName, user.Address)
				return err
			},
		},
		&cobra.Command{
			Use:   "update <address>",
			Short: "Publish the current PnL to ENS text records",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := c.client()
				if err != nil {
					return err
				}
				update, err := client.UpdateENS(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, update)
			},
		},
		&cobra.Command{
			Use:   "read <name>",
			Short: "Read the VelocityVault records of an ENS name",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := c.client()
				if err != nil {
					return err
				}
				records, err := client.ReadENS(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, records)
			},
		},
	)
	return cmd
}
