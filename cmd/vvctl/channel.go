package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"VelocityVault/internal/clearnode"
	"VelocityVault/pkg/logger"
)

const defaultClearnode = "wss://clearnet-sandbox.yellow.com/ws"

// channelSession 是一次命令执行期间持有的清算节点会话。
type channelSession struct {
	session *clearnode.Session
	wallet  *clearnode.KeySigner
}

func newChannelCmd(c *cli) *cobra.Command {
	c.v.SetDefault("clearnode", defaultClearnode)
	c.v.SetDefault("asset", "ytest.usd")
	c.v.SetDefault("log-level", "warn")

	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Drive a clearnode session: authenticate, fund, trade and withdraw",
		Long: "Each command opens a fresh clearnode session signed by VV_PRIVATE_KEY, " +
			"refreshes channels and ledger balances, runs one operation and prints the session snapshot.",
	}

	flags := cmd.PersistentFlags()
	flags.String("clearnode", defaultClearnode, "clearnode websocket URL (env VV_CLEARNODE)")
	flags.String("private-key", "", "wallet private key in hex (env VV_PRIVATE_KEY)")
	flags.Int64("chain-id", 0, "chain id used for create_channel")
	flags.String("token", "", "token address used for create_channel")
	flags.String("asset", "ytest.usd", "allowance asset")
	flags.String("destination", "", "transfer destination for trades")
	flags.String("log-level", "warn", "session log level, written to stderr")
	for _, name := range []string{"clearnode", "private-key", "chain-id", "token", "asset", "destination", "log-level"} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(
		newChannelConnectCmd(c),
		newChannelStatusCmd(c),
		newChannelDepositCmd(c),
		newChannelTradeCmd(c),
		newChannelWithdrawCmd(c),
	)
	return cmd
}

func newChannelConnectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Authenticate against the clearnode and print the session key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withChannel(cmd, false, func(context.Context, *clearnode.Session) error { return nil })
		},
	}
}

func newChannelStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the open channel and balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withChannel(cmd, true, func(context.Context, *clearnode.Session) error { return nil })
		},
	}
}

func newChannelDepositCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Create a channel, or resize the open one by amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withChannel(cmd, true, func(ctx context.Context, s *clearnode.Session) error {
				call, err := s.DepositOrFund(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = call.Wait(ctx)
				return err
			})
		},
	}
}

func newChannelTradeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "trade <buy|sell> <asset> <amount>",
		Short: "Send a transfer to the trade destination and wait for the confirmation",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withChannel(cmd, true, func(ctx context.Context, s *clearnode.Session) error {
				call, err := s.Trade(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				_, err = call.Wait(ctx)
				return err
			})
		},
	}
}

func newChannelWithdrawCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Apply a local withdrawal to the refreshed balance; settlement happens through the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withChannel(cmd, true, func(_ context.Context, s *clearnode.Session) error {
				return s.Withdraw(args[0])
			})
		},
	}
}

// withChannel 打开会话、完成鉴权（refresh 时再拉取通道与余额），执行 op 后输出快照并断开。
func (c *cli) withChannel(cmd *cobra.Command, refresh bool, op func(ctx context.Context, s *clearnode.Session) error) error {
	cs, err := c.openChannel()
	if err != nil {
		return err
	}
	defer cs.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.v.GetDuration("timeout"))
	defer cancel()

	call, err := cs.session.Connect(ctx, cs.wallet)
	if err != nil {
		return err
	}
	if _, err := call.Wait(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if refresh {
		calls, err := cs.session.Refresh(ctx)
		if err != nil {
			return err
		}
		for _, pending := range calls {
			if _, err := pending.Wait(ctx); err != nil {
				return fmt.Errorf("%s: %w", pending.Method, err)
			}
		}
	}
	if err := op(ctx, cs.session); err != nil {
		return err
	}
	return writeJSON(cmd, cs.session.Snapshot())
}

func (c *cli) openChannel() (*channelSession, error) {
	key := strings.TrimSpace(c.v.GetString("private-key"))
	if key == "" {
		return nil, errors.New("a wallet key is required: set VV_PRIVATE_KEY or --private-key")
	}
	wallet, err := clearnode.NewKeySigner(key)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       c.v.GetString("log-level"),
		Format:      "text",
		OutputPaths: []string{"stderr"},
	}); err != nil {
		wallet.Zero()
		return nil, err
	}

	timeout := c.v.GetDuration("timeout")
	session := clearnode.NewSession(clearnode.Config{
		URL:                 c.v.GetString("clearnode"),
		Allowances:          []clearnode.Allowance{{Asset: c.v.GetString("asset"), Amount: "0"}},
		RequestTimeout:      timeout,
		DialTimeout:         timeout,
		ChainID:             c.v.GetInt64("chain-id"),
		TokenAddress:        c.v.GetString("token"),
		AllowanceAsset:      c.v.GetString("asset"),
		TransferDestination: c.v.GetString("destination"),
	})
	return &channelSession{session: session, wallet: wallet}, nil
}

func (cs *channelSession) close() {
	cs.session.Disconnect()
	cs.wallet.Zero()
}
