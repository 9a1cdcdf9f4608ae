package commands

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/internal/eth"
	"github.com/layer-3/onerecurr/ports"
)

var errNoChain = errors.New("no rpc endpoint configured, use --rpc")

// txSigner picks the session key, or the wallet key when useWallet is set.
func txSigner(cmd *cobra.Command, useWallet bool) (ports.TxSigner, error) {
	if useWallet {
		if cfg.WalletKey == "" {
			return nil, fmt.Errorf("%w: --wallet-key required", core.ErrNoWalletConnected)
		}
		signer, err := eth.SignerFromHex(cfg.WalletKey)
		if err != nil {
			return nil, err
		}
		return signer, nil
	}
	if _, err := appCtx.Resume(cmd.Context()); err != nil {
		return nil, err
	}
	return appCtx.Sessions.Signer()
}

func actionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Call the ActionExecutor contract",
	}

	var useWallet bool
	perform := &cobra.Command{
		Use:   "perform",
		Short: "Send performAction, signed by the session key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if appCtx.Actions == nil {
				return errNoChain
			}
			signer, err := txSigner(cmd, useWallet)
			if err != nil {
				return err
			}
			receipt, err := appCtx.Actions.PerformAction(cmd.Context(), signer)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}
	perform.Flags().BoolVar(&useWallet, "with-wallet", false, "sign with --wallet-key instead of the session key")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "count",
			Short: "Read actionCount",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if appCtx.Actions == nil {
					return errNoChain
				}
				count, err := appCtx.Actions.ActionCount(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), count.String())
				return nil
			},
		},
		perform,
	)
	return cmd
}

func priceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Check prices against the deviation thresholds",
	}

	var useWallet bool
	set := &cobra.Command{
		Use:   "set <min-bps> <max-bps>",
		Short: "Update the thresholds (owner only on a deployed hook)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t core.PriceThresholds
			if _, err := fmt.Sscan(args[0], &t.Min); err != nil {
				return fmt.Errorf("%w: min: %w", core.ErrInvalidThresholds, err)
			}
			if _, err := fmt.Sscan(args[1], &t.Max); err != nil {
				return fmt.Errorf("%w: max: %w", core.ErrInvalidThresholds, err)
			}
			var signer ports.TxSigner
			if cfg.PriceCheckHook != "" {
				s, err := txSigner(cmd, useWallet)
				if err != nil {
					return err
				}
				signer = s
			}
			if err := appCtx.Prices.SetThresholds(cmd.Context(), signer, t); err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}
	set.Flags().BoolVar(&useWallet, "with-wallet", false, "sign with --wallet-key instead of the session key")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "thresholds",
			Short: "Show the thresholds in basis points",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := appCtx.Prices.Thresholds(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, t)
			},
		},
		&cobra.Command{
			Use:   "check <proposed> <oracle>",
			Short: "Check a proposed price against an oracle price (base-10 integers)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				proposed, ok := new(big.Int).SetString(args[0], 10)
				if !ok {
					return fmt.Errorf("%w: %q", core.ErrInvalidPrice, args[0])
				}
				oracle, ok := new(big.Int).SetString(args[1], 10)
				if !ok {
					return fmt.Errorf("%w: %q", core.ErrInvalidPrice, args[1])
				}
				res, err := appCtx.Prices.CheckPrice(cmd.Context(), proposed, oracle)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			},
		},
		set,
	)
	return cmd
}
