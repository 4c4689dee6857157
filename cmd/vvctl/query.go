package main

import (
	"github.com/spf13/cobra"
)

func newStateCmd(c *cli) *cobra.Command {
	var includeENS bool
	cmd := &cobra.Command{
		Use:   "state <address>",
		Short: "Show the portfolio overview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			state, err := client.State(cmd.Context(), args[0], includeENS)
			if err != nil {
				return err
			}
			return writeJSON(cmd, state)
		},
	}
	cmd.Flags().BoolVar(&includeENS, "ens", false, "include ENS records")
	return cmd
}

func newLogsCmd(c *cli) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "logs <address>",
		Short: "Show the activity feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			feed, err := client.Logs(cmd.Context(), args[0], limit, offset)
			if err != nil {
				return err
			}
			return writeJSON(cmd, feed)
		},
	}
	cmd.PersistentFlags().IntVar(&limit, "limit", 50, "page size")
	cmd.PersistentFlags().IntVar(&offset, "offset", 0, "page offset")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "trades <address>",
			Short: "Show trade logs only",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := c.client()
				if err != nil {
					return err
				}
				trades, err := client.Trades(cmd.Context(), args[0], limit, offset)
				if err != nil {
					return err
				}
				return writeJSON(cmd, trades)
			},
		},
		&cobra.Command{
			Use:   "pnl-history <address>",
			Short: "Show PnL snapshots, newest first",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := c.client()
				if err != nil {
					return err
				}
				history, err := client.PnLHistory(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd, history)
			},
		},
		&cobra.Command{
			Use:   "stats <address>",
			Short: "Show execution statistics",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := c.client()
				if err != nil {
					return err
				}
				stats, err := client.Stats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, stats)
			},
		},
	)
	return cmd
}

func newIntentsCmd(c *cli) *cobra.Command {
	var (
		limit  int
		status string
	)
	cmd := &cobra.Command{
		Use:   "intents",
		Short: "Show the agent intent queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			queue, err := client.Intents(cmd.Context(), limit, status)
			if err != nil {
				return err
			}
			return writeJSON(cmd, queue)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum intents to list")
	cmd.Flags().StringVar(&status, "status", "", "filter by status: pending, running, succeeded or failed")
	return cmd
}
