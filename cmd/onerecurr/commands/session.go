package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the delegated session key",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Ask the wallet to delegate to a fresh session key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				resumed, err := appCtx.Resume(ctx)
				if err != nil {
					return err
				}
				if !resumed {
					if _, err := appCtx.Wallet.Connect(ctx, ""); err != nil {
						return err
					}
				}
				status, err := appCtx.Sessions.CreateSession(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the stored session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := appCtx.Resume(cmd.Context()); err != nil {
					return err
				}
				appCtx.Sessions.CheckExpiry(cmd.Context())
				return printJSON(cmd, appCtx.Sessions.Status())
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Destroy the session key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := appCtx.Resume(cmd.Context()); err != nil {
					return err
				}
				if err := appCtx.Sessions.ClearSession(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cleared")
				return nil
			},
		},
	)
	return cmd
}
