package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/app"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/handler"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/repository"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

var defaultOddsPercent = decimal.NewFromInt(50)

type outcomeOptions struct {
	betID     string
	blockHash string
	odds      string
	amount    string
}

func newOutcomeCmd(opts *rootOptions) *cobra.Command {
	oo := &outcomeOptions{}
	cmd := &cobra.Command{
		Use:   "outcome",
		Short: "Compute a bet's roll from its target block hash",
		Long: "Compute a bet's roll from its target block hash.\n" +
			"Without --block-hash the bet and its target block are read from chain.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOutcome(cmd, opts, oo)
		},
	}
	cmd.Flags().StringVar(&oo.betID, "bet-id", "", "bet id")
	cmd.Flags().StringVar(&oo.blockHash, "block-hash", "", "target block hash, 32 bytes hex")
	cmd.Flags().StringVar(&oo.odds, "odds", "", "win probability in percent (default: on-chain bet, or 50)")
	cmd.Flags().StringVar(&oo.amount, "amount", "", "stake in token units, enables payout")
	_ = cmd.MarkFlagRequired("bet-id")
	return cmd
}

func runOutcome(cmd *cobra.Command, opts *rootOptions, oo *outcomeOptions) error {
	betID, err := handler.ParseBetID(oo.betID)
	if err != nil {
		return err
	}
	var odds, amount *big.Int
	if oo.odds != "" {
		if odds, err = handler.ParseOdds(oo.odds); err != nil {
			return err
		}
	}
	if oo.amount != "" {
		if amount, err = handler.ParseAmount(oo.amount); err != nil {
			return err
		}
	}

	var (
		calc *outcome.Calculator
		hash common.Hash
	)
	if oo.blockHash != "" {
		raw, err := hexutil.Decode(oo.blockHash)
		if err != nil || len(raw) != common.HashLength {
			return bizerr.ErrInvalidRequest.WithMessage("invalid block hash").WithDetail(bizerr.DetailRaw, oo.blockHash)
		}
		hash = common.BytesToHash(raw)
		cfg, err := loadConfig(opts, false)
		if err != nil {
			return err
		}
		calc = outcome.NewCalculator(cfg.Game.HouseEdgeBP)
	} else {
		application, closeFn, err := openApp(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer closeFn()
		calc = application.Calculator()
		if hash, odds, amount, err = lookupBet(cmd.Context(), application, betID, odds, amount); err != nil {
			return err
		}
	}
	if odds == nil {
		odds, _ = outcome.OddsFromPercent(defaultOddsPercent)
	}

	stake := amount
	if stake == nil {
		stake = new(big.Int)
	}
	ev, err := calc.Evaluate(betID, hash, stake, odds)
	if err != nil {
		return err
	}
	threshold := outcome.Threshold(odds, calc.HouseEdgeBP()).Shift(-2)
	fmt.Fprint(cmd.OutOrStdout(), renderEvaluation(betID, ev, threshold, amount != nil))
	return nil
}

// lookupBet 读取链上下注与目标区块哈希, 未指定的赔率与金额取链上值
func lookupBet(ctx context.Context, application *app.App, betID, odds, amount *big.Int) (common.Hash, *big.Int, *big.Int, error) {
	gw := application.Gateway()
	bet, err := gw.GetBet(ctx, betID)
	if err != nil {
		return common.Hash{}, nil, nil, err
	}
	if !bet.Exists() {
		return common.Hash{}, nil, nil, bizerr.ErrBetNotFound.WithDetail("bet_id", betID.String())
	}
	hash, err := gw.BlockHash(ctx, bet.TargetBlock())
	if err != nil {
		return common.Hash{}, nil, nil, err
	}
	if odds == nil {
		odds = bet.TargetOdds
	}
	if amount == nil {
		amount = bet.Amount
	}
	return hash, odds, amount, nil
}

type historyOptions struct {
	limit   int
	journal bool
	player  string
	page    int
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	ho := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List bets from the indexer or the local journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, opts, ho)
		},
	}
	cmd.Flags().IntVar(&ho.limit, "limit", 20, "max rows")
	cmd.Flags().BoolVar(&ho.journal, "journal", false, "read the local bet journal instead of the indexer")
	cmd.Flags().StringVar(&ho.player, "player", "", "player address (default: configured wallet)")
	cmd.Flags().IntVar(&ho.page, "page", 1, "journal page")
	return cmd
}

func runHistory(cmd *cobra.Command, opts *rootOptions, ho *historyOptions) error {
	if ho.limit <= 0 || ho.limit > 500 {
		return bizerr.ErrInvalidRequest.WithMessage("limit must be in [1, 500]")
	}
	application, closeFn, err := openApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer closeFn()

	player, err := resolvePlayer(application, ho.player)
	if err != nil {
		return err
	}

	if ho.journal {
		page := &repository.Pagination{Page: ho.page, PageSize: ho.limit}
		recs, err := application.Journal().ListByPlayer(cmd.Context(), player.Hex(), page)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderJournal(recs, page.Total))
		return nil
	}

	idx := application.Indexer()
	if idx == nil {
		return bizerr.ErrUnavailable.WithMessage("indexer not configured, use --journal")
	}
	events, err := idx.BetHistory(cmd.Context(), player, ho.limit)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), renderHistory(events))
	return nil
}

func resolvePlayer(application *app.App, raw string) (common.Address, error) {
	if raw != "" {
		if !common.IsHexAddress(raw) {
			return common.Address{}, bizerr.ErrInvalidRequest.WithMessage("invalid address").WithDetail(bizerr.DetailRaw, raw)
		}
		return common.HexToAddress(raw), nil
	}
	if application.Wallet() == nil {
		return common.Address{}, bizerr.ErrNoWallet
	}
	return application.Wallet().Address(), nil
}
