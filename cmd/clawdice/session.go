package main

import (
	"fmt"
	"math/big"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/app"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/handler"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/session"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

func newSessionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the gasless session grant",
	}
	cmd.AddCommand(
		newSessionCreateCmd(opts),
		newSessionRevokeCmd(opts),
		newSessionStatusCmd(opts),
	)
	return cmd
}

// withSessions 打开应用并取出会话管理器
func withSessions(cmd *cobra.Command, opts *rootOptions, fn func(*app.App, *session.Manager) error) error {
	application, closeFn, err := openApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer closeFn()

	sessions := application.Sessions()
	if sessions == nil {
		return bizerr.ErrUnavailable.WithMessage("sessions require relay.enabled")
	}
	if application.Wallet() == nil {
		return bizerr.ErrNoWallet
	}
	return fn(application, sessions)
}

func newSessionCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		duration time.Duration
		maxBet   string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Authorize a session key for gasless bets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if duration < 0 {
				return bizerr.ErrInvalidRequest.WithMessage("duration must be positive")
			}
			var limit *big.Int
			if maxBet != "" {
				v, err := handler.ParseAmount(maxBet)
				if err != nil {
					return err
				}
				limit = v
			}
			return withSessions(cmd, opts, func(application *app.App, sessions *session.Manager) error {
				grant, err := sessions.Create(cmd.Context(), application.Wallet(), duration, limit)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("session created"))
				fmt.Fprint(cmd.OutOrStdout(), renderSession(sessions.Status(), grant, sessions.SkipWalletPopup(cmd.Context())))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "session lifetime (default from config)")
	cmd.Flags().StringVar(&maxBet, "max-bet", "", "per-bet limit in token units (default from config)")
	return cmd
}

func newSessionRevokeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the active session on chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSessions(cmd, opts, func(application *app.App, sessions *session.Manager) error {
				if err := sessions.Revoke(cmd.Context(), application.Wallet()); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("session revoked"))
				return nil
			})
		},
	}
}

func newSessionStatusCmd(opts *rootOptions) *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session and its on-chain state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSessions(cmd, opts, func(_ *app.App, sessions *session.Manager) error {
				if verify && sessions.Status() == model.SessionActive {
					if _, err := sessions.Verify(cmd.Context()); err != nil {
						return err
					}
				}
				fmt.Fprint(cmd.OutOrStdout(), renderSession(sessions.Status(), sessions.Grant(), sessions.SkipWalletPopup(cmd.Context())))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", true, "re-check the grant on chain")
	return cmd
}
