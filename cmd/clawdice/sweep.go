package main

import (
	"fmt"

	"github.com/spf13/cobra"

	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reveal the wallet's unresolved bets once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, closeFn, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			sweeper := application.Sweeper()
			if sweeper == nil {
				return bizerr.ErrUnavailable.WithMessage("auto-reveal requires indexer.base_url and sweeper.enabled")
			}
			if application.Wallet() == nil {
				return bizerr.ErrNoWallet
			}
			report, err := sweeper.Sweep(cmd.Context(), application.Wallet().Address())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSweep(report, sweeper.Results()))
			return nil
		},
	}
}
