package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/game"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/handler"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

type betOptions struct {
	amount  string
	odds    string
	session bool
}

func newBetCmd(opts *rootOptions) *cobra.Command {
	bo := &betOptions{}
	cmd := &cobra.Command{
		Use:   "bet",
		Short: "Place a bet and wait for its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBet(cmd, opts, bo)
		},
	}
	cmd.Flags().StringVar(&bo.amount, "amount", "", "stake in token units")
	cmd.Flags().StringVar(&bo.odds, "odds", "50", "win probability in percent")
	cmd.Flags().BoolVar(&bo.session, "session", false, "use the session fast path when a session is active")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func runBet(cmd *cobra.Command, opts *rootOptions, bo *betOptions) error {
	amount, err := handler.ParseAmount(bo.amount)
	if err != nil {
		return err
	}
	odds, err := handler.ParseOdds(bo.odds)
	if err != nil {
		return err
	}

	application, closeFn, err := openApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer closeFn()
	if application.Wallet() == nil {
		return bizerr.ErrNoWallet
	}

	orch := application.Orchestrator()
	states, stop := orch.Subscribe()
	defer stop()

	spinner, _ := pterm.DefaultSpinner.WithWriter(cmd.ErrOrStderr()).Start("placing bet")
	go func() {
		for s := range states {
			if spinner != nil && s.Phase.Active() {
				spinner.UpdateText(phaseText(s))
			}
		}
	}()

	result, err := orch.PlaceBet(cmd.Context(), game.Request{
		Amount:     amount,
		TargetOdds: odds.Uint64(),
		UseSession: bo.session,
	})
	if err != nil {
		if spinner != nil {
			_ = spinner.Stop()
		}
		return err
	}
	if spinner != nil {
		spinner.Success("bet settled")
	}
	fmt.Fprint(cmd.OutOrStdout(), renderBetResult(result, amount, odds))
	return nil
}

// phaseText 进度提示
func phaseText(s game.State) string {
	switch s.Phase {
	case game.PhaseWaitingForBlock:
		return fmt.Sprintf("bet %s placed, waiting for block %d", s.BetID, s.TargetBlock)
	case game.PhaseClaiming:
		return fmt.Sprintf("claiming bet %s", s.BetID)
	default:
		return "placing bet"
	}
}
