package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"VelocityVault/sdk/go/velocity"
)

const defaultAPI = "http://localhost:3001"

// cli 持有一次命令执行的配置来源。
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix("VV")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	c.v.SetDefault("api", defaultAPI)
	c.v.SetDefault("timeout", 15*time.Second)

	rootCmd := &cobra.Command{
		Use:           "vvctl",
		Short:         "VelocityVault CLI: manage mandates, the trading agent, ENS reputation and clearnode channels",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := c.v.GetString("config")
			if path == "" {
				return nil
			}
			c.v.SetConfigFile(path)
			if err := c.v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", path, err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("api", defaultAPI, "VelocityVault API base URL (env VV_API)")
	flags.Duration("timeout", 15*time.Second, "HTTP timeout")
	flags.String("config", "", "optional config file (yaml, json or toml)")
	_ = c.v.BindPFlag("api", flags.Lookup("api"))
	_ = c.v.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = c.v.BindPFlag("config", flags.Lookup("config"))

	rootCmd.AddCommand(
		newHealthCmd(c),
		newSessionCmd(c),
		newAgentCmd(c),
		newStateCmd(c),
		newLogsCmd(c),
		newENSCmd(c),
		newIntentsCmd(c),
		newChannelCmd(c),
	)
	return rootCmd
}

func (c *cli) client() (*velocity.Client, error) {
	httpClient := &http.Client{Timeout: c.v.GetDuration("timeout")}
	return velocity.NewClient(strings.TrimRight(c.v.GetString("api"), "/"), httpClient)
}

func writeJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
