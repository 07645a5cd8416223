package main

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/reveal"
)

func box(title, body string) string {
	return pterm.DefaultBox.
		WithLeftPadding(2).
		WithRightPadding(2).
		WithTitle(title).
		WithTitleTopLeft().
		Sprint(strings.TrimRight(body, "\n")) + "\n"
}

func table(data pterm.TableData) string {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err.Error() + "\n"
	}
	return out + "\n"
}

func wonLabel(won bool) string {
	if won {
		return pterm.LightGreen("WON")
	}
	return pterm.LightRed("LOST")
}

// renderBetResult 下注结果
func renderBetResult(res *model.BetOutcome, amount, odds *big.Int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bet:     %s\n", res.BetID)
	fmt.Fprintf(&b, "Stake:   %s @ %s%%\n", model.FromWei(amount).String(), outcome.OddsToPercent(odds).String())
	fmt.Fprintf(&b, "Result:  %s\n", wonLabel(res.Won))
	if res.HasResult {
		fmt.Fprintf(&b, "Roll:    %s%%\n", res.Percentage.StringFixed(2))
	}
	if res.Won && res.Payout != nil {
		fmt.Fprintf(&b, "Payout:  %s\n", model.FromWei(res.Payout).String())
	}
	fmt.Fprintf(&b, "Claim tx: %s\n", res.TxHash.Hex())
	return box("BET", b.String())
}

// renderEvaluation 结果计算
func renderEvaluation(betID *big.Int, ev outcome.Evaluation, threshold decimal.Decimal, hasStake bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bet:       %s\n", betID)
	fmt.Fprintf(&b, "Roll:      %s%% (%d bp)\n", ev.Result.Percentage().StringFixed(2), ev.Result.BasisPoints)
	fmt.Fprintf(&b, "Threshold: %s%%\n", threshold.StringFixed(2))
	fmt.Fprintf(&b, "Result:    %s\n", wonLabel(ev.Won))
	if hasStake && ev.Won {
		fmt.Fprintf(&b, "Payout:    %s\n", model.FromWei(ev.Payout).String())
	}
	return box("OUTCOME", b.String())
}

// renderSweep 扫描汇总与开奖明细
func renderSweep(report *reveal.Report, results []reveal.Reveal) string {
	var b strings.Builder
	b.WriteString(table(pterm.TableData{
		{"Candidates", "Revealed", "Foreign", "Skipped", "Failed", "Duration"},
		{
			fmt.Sprint(report.Candidates),
			fmt.Sprint(report.Revealed),
			fmt.Sprint(report.Foreign),
			fmt.Sprint(report.Skipped),
			fmt.Sprint(report.Failed),
			report.Duration.Round(time.Millisecond).String(),
		},
	}))
	if len(results) == 0 {
		return b.String()
	}
	data := pterm.TableData{{"Bet", "Amount", "Odds", "Result", "Roll", "Payout", "Path"}}
	for _, r := range results {
		roll := "-"
		if r.Result != nil {
			roll = r.Result.StringFixed(2) + "%"
		}
		data = append(data, []string{
			r.BetID.String(),
			r.Amount.String(),
			r.TargetOdds.String() + "%",
			wonLabel(r.Won),
			roll,
			r.Payout.String(),
			string(r.Path),
		})
	}
	b.WriteString(table(data))
	return b.String()
}

// renderHistory 索引服务下注历史
func renderHistory(events []*model.BetEvent) string {
	if len(events) == 0 {
		return pterm.Info.Sprintln("no bets")
	}
	data := pterm.TableData{{"Bet", "Block", "Amount", "Odds", "Status", "Roll", "Payout"}}
	for _, e := range events {
		roll, payout := "-", "-"
		if e.Resolved {
			roll = e.Result.StringFixed(2) + "%"
			if e.Won {
				payout = e.Payout.String()
			}
		}
		data = append(data, []string{
			e.BetID.String(),
			fmt.Sprint(e.PlacementBlock),
			e.Amount.String(),
			e.TargetOdds.String() + "%",
			statusLabel(e.DisplayStatus()),
			roll,
			payout,
		})
	}
	return table(data)
}

// renderJournal 本地下注流水
func renderJournal(recs []*model.BetRecord, total int64) string {
	if len(recs) == 0 {
		return pterm.Info.Sprintln("journal is empty")
	}
	data := pterm.TableData{{"Bet", "Amount", "Odds", "Outcome", "Roll", "Payout", "Placed via", "Claimed via", "Created"}}
	for _, r := range recs {
		roll := "-"
		if r.ResultBP >= 0 {
			roll = decimal.New(r.ResultBP, -2).StringFixed(2) + "%"
		}
		data = append(data, []string{
			r.BetID,
			r.Amount.String(),
			r.TargetOdds.String() + "%",
			r.Outcome.String(),
			roll,
			r.Payout.String(),
			string(r.PlacePath),
			string(r.ClaimPath),
			time.UnixMilli(r.CreatedAt).UTC().Format(time.RFC3339),
		})
	}
	return table(data) + fmt.Sprintf("%d of %d records\n", len(recs), total)
}

func statusLabel(status string) string {
	switch status {
	case "won":
		return pterm.LightGreen(status)
	case "lost":
		return pterm.LightRed(status)
	case "expired":
		return pterm.Gray(status)
	default:
		return pterm.LightYellow(status)
	}
}

// renderSession 会话状态
func renderSession(status model.SessionStatus, grant *model.SessionGrant, skipPopup bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status:   %s\n", status)
	if grant != nil {
		fmt.Fprintf(&b, "Delegate: %s\n", grant.Delegate.Hex())
		fmt.Fprintf(&b, "Expires:  %s\n", grant.ExpiresAt.UTC().Format(time.RFC3339))
		if grant.MaxBetAmount != nil {
			fmt.Fprintf(&b, "Max bet:  %s\n", model.FromWei(grant.MaxBetAmount).String())
		}
	}
	fmt.Fprintf(&b, "Skip wallet popup: %t\n", skipPopup)
	return box("SESSION", b.String())
}
