package commands

import (
	"github.com/spf13/cobra"
)

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect and manage the wallet connection",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "providers",
			Short: "List discovered wallet providers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(cmd, appCtx.Registry.Providers())
			},
		},
		&cobra.Command{
			Use:   "connect [provider-id]",
			Short: "Connect to a wallet and remember it",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id := ""
				if len(args) == 1 {
					id = args[0]
				}
				state, err := appCtx.Wallet.Connect(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd, state)
			},
		},
		&cobra.Command{
			Use:   "disconnect",
			Short: "Forget the wallet and its session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := appCtx.Resume(cmd.Context()); err != nil {
					return err
				}
				appCtx.Wallet.Disconnect(cmd.Context())
				return printJSON(cmd, appCtx.Wallet.State())
			},
		},
	)
	return cmd
}
