package commands

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/layer-3/onerecurr/config"
	"github.com/layer-3/onerecurr/internal/app"
)

var (
	cfg    config.Config
	appCtx *app.App
)

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	cfg = config.FromEnv()
	appCtx = nil

	root := &cobra.Command{
		Use:          "onerecurr",
		Short:        "Delegated session keys, tip channels and contract actions for one wallet",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			appCtx = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			return appCtx.Close()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&cfg.RPCURL, "rpc", cfg.RPCURL, "Ethereum JSON-RPC endpoint (empty disables chain access)")
	f.Int64Var(&cfg.ChainID, "chain-id", cfg.ChainID, "chain id used when the rpc endpoint cannot be reached")
	f.StringVar(&cfg.WalletKey, "wallet-key", cfg.WalletKey, "hex private key for the local wallet provider")
	f.StringVar(&cfg.WalletRPCURL, "wallet-rpc", cfg.WalletRPCURL, "remote signer JSON-RPC endpoint")
	f.StringVar(&cfg.Preference, "wallet", cfg.Preference, "preferred wallet name or rdns")
	f.StringVar(&cfg.ActionExecutor, "executor", cfg.ActionExecutor, "ActionExecutor contract address")
	f.StringVar(&cfg.PriceCheckHook, "price-hook", cfg.PriceCheckHook, "PriceCheckHook contract address")
	f.StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "off-chain relay WebSocket URL")
	f.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "redis URL (default: file store under --home)")
	f.StringVar(&cfg.Home, "home", cfg.Home, "state directory")
	f.StringVarP(&cfg.Passphrase, "passphrase", "p", cfg.Passphrase, "passphrase to seal session keys at rest")
	f.DurationVar(&cfg.SessionExpiry, "session-expiry", cfg.SessionExpiry, "session lifetime")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	f.BoolVar(&cfg.Debug, "debug", cfg.Debug, "debug logging")

	root.AddCommand(serveCmd(), walletCmd(), sessionCmd(), actionCmd(), priceCmd())
	return root
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
