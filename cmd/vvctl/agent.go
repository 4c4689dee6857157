package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"VelocityVault/sdk/go/velocity"
)

func newAgentCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start, stop and report on the trading agent",
	}
	cmd.AddCommand(
		newAgentStartCmd(c),
		newAgentStopCmd(c),
		newAgentPnLCmd(c),
	)
	return cmd
}

func newAgentStartCmd(c *cli) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "start <address>",
		Short: "Start the agent under the active mandate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			state, err := client.StartAgent(cmd.Context(), args[0], strategy)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Agent running for %s (strategy: %s)\n", state.UserAddress, state.Strategy)
			return err
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "momentum, mean-reversion, arbitrage or custom")
	return cmd
}

func newAgentStopCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <address>",
		Short: "Stop the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			state, err := client.StopAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Agent stopped for %s (pnl: %s)\n", state.UserAddress, state.TotalPnL)
			return err
		},
	}
}

func newAgentPnLCmd(c *cli) *cobra.Command {
	var (
		update velocity.PnLUpdate
		trade  velocity.Trade
	)
	cmd := &cobra.Command{
		Use:   "pnl <address>",
		Short: "Report agent PnL and an optional trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			update.UserAddress = args[0]
			if trade.Pair != "" {
				update.Trade = &trade
			}
			if err := client.UpdatePnL(cmd.Context(), update); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "PnL updated for %s: %s\n", args[0], update.PnL)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&update.PnL, "pnl", "", "total PnL")
	flags.Float64Var(&update.PnLPercent, "percent", 0, "PnL percent")
	flags.StringVar(&trade.Pair, "pair", "", "trade pair")
	flags.StringVar(&trade.Side, "side", "", "trade side")
	flags.StringVar(&trade.Amount, "amount", "", "trade amount")
	flags.StringVar(&trade.Price, "price", "", "trade price")
	flags.StringVar(&trade.TxHash, "tx", "", "trade transaction hash")
	_ = cmd.MarkFlagRequired("pnl")
	return cmd
}
