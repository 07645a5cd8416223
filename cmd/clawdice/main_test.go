package main

import (
	"bytes"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/game"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/reveal"
)

func init() {
	pterm.DisableColor()
}

const testConfig = `
blockchain:
  rpc_url: http://127.0.0.1:8545
  chain_id: 8453
  dice_contract: "0x00000000000000000000000000000000000000d1"
game:
  house_edge_bp: 100
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "bet", "sweep", "session", "outcome", "history"} {
		assert.True(t, names[want], want)
	}

	sess, _, err := root.Find([]string{"session"})
	require.NoError(t, err)
	var subs []string
	for _, c := range sess.Commands() {
		subs = append(subs, c.Name())
	}
	assert.ElementsMatch(t, []string{"create", "revoke", "status"}, subs)
	assert.Equal(t, defaultConfigPath, root.PersistentFlags().Lookup("config").DefValue)
}

func TestOutcomeCmd_WithBlockHash(t *testing.T) {
	cfg := writeConfig(t)
	hash := common.HexToHash("0x8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63")
	res, err := outcome.Compute(big.NewInt(42), hash)
	require.NoError(t, err)

	out, err := execute(t, "--config", cfg, "outcome",
		"--bet-id", "42",
		"--block-hash", hash.Hex(),
		"--odds", "50",
		"--amount", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "OUTCOME")
	assert.Contains(t, out, "Bet:       42")
	assert.Contains(t, out, res.Percentage().StringFixed(2)+"%")
	assert.Contains(t, out, "Threshold: 49.50%")
	if res.BasisPoints < 4950 {
		assert.Contains(t, out, "WON")
		assert.Contains(t, out, "Payout:    4")
	} else {
		assert.Contains(t, out, "LOST")
		assert.NotContains(t, out, "Payout")
	}
}

func TestOutcomeCmd_InvalidInput(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "outcome", "--block-hash", "0x01")
	require.Error(t, err)

	_, err = execute(t, "--config", cfg, "outcome", "--bet-id", "1", "--block-hash", "0x1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid block hash")

	_, err = execute(t, "--config", cfg, "outcome", "--bet-id", "x", "--block-hash", common.Hash{1}.Hex())
	require.Error(t, err)

	_, err = execute(t, "--config", cfg, "outcome", "--bet-id", "1", "--block-hash", common.Hash{1}.Hex(), "--odds", "100")
	require.Error(t, err)
}

func TestCommands_RejectBeforeConnecting(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "history", "--limit", "0")
	require.Error(t, err)

	_, err = execute(t, "--config", cfg, "bet", "--amount=-1")
	require.Error(t, err)

	_, err = execute(t, "--config", cfg, "bet", "--amount", "1", "--odds", "0")
	require.Error(t, err)

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "outcome",
		"--bet-id", "1", "--block-hash", common.Hash{1}.Hex())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestPhaseText(t *testing.T) {
	assert.Equal(t, "placing bet", phaseText(game.State{Phase: game.PhasePlacing}))
	assert.Equal(t, "bet 7 placed, waiting for block 101",
		phaseText(game.State{Phase: game.PhaseWaitingForBlock, BetID: big.NewInt(7), TargetBlock: 101}))
	assert.Equal(t, "claiming bet 7", phaseText(game.State{Phase: game.PhaseClaiming, BetID: big.NewInt(7)}))
}

func TestRenderHistory(t *testing.T) {
	assert.Contains(t, renderHistory(nil), "no bets")

	out := renderHistory([]*model.BetEvent{
		{
			BetID:          big.NewInt(3),
			Amount:         decimal.NewFromInt(5),
			TargetOdds:     decimal.NewFromInt(25),
			PlacementBlock: 900,
			Resolved:       true,
			Won:            true,
			Payout:         decimal.NewFromInt(20),
			Result:         decimal.RequireFromString("12.34"),
		},
		{
			BetID:      big.NewInt(4),
			Amount:     decimal.NewFromInt(1),
			TargetOdds: decimal.NewFromInt(50),
			Expired:    true,
		},
	})
	assert.Contains(t, out, "12.34%")
	assert.Contains(t, out, "won")
	assert.Contains(t, out, "expired")
	assert.Contains(t, out, "20")
}

func TestRenderJournal(t *testing.T) {
	assert.Contains(t, renderJournal(nil, 0), "journal is empty")

	out := renderJournal([]*model.BetRecord{{
		BetID:      "11",
		Amount:     decimal.NewFromInt(2),
		TargetOdds: decimal.NewFromInt(50),
		Outcome:    model.JournalLost,
		Payout:     decimal.Zero,
		ResultBP:   8123,
		PlacePath:  model.PathSession,
		CreatedAt:  1700000000000,
	}, {
		BetID:      "12",
		Amount:     decimal.NewFromInt(2),
		TargetOdds: decimal.NewFromInt(50),
		Outcome:    model.JournalPending,
		Payout:     decimal.Zero,
		ResultBP:   -1,
		CreatedAt:  1700000000000,
	}}, 7)
	assert.Contains(t, out, "LOST")
	assert.Contains(t, out, "81.23%")
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "2023-11-14T22:13:20Z")
	assert.Contains(t, out, "2 of 7 records")
}

func TestRenderSweep(t *testing.T) {
	result := decimal.RequireFromString("3.10")
	out := renderSweep(&reveal.Report{Candidates: 2, Revealed: 1, Failed: 1}, []reveal.Reveal{{
		BetID:      big.NewInt(9),
		Amount:     decimal.NewFromInt(1),
		TargetOdds: decimal.NewFromInt(10),
		Won:        true,
		Payout:     decimal.NewFromInt(10),
		Result:     &result,
		Path:       model.PathWallet,
	}})
	assert.Contains(t, out, "Candidates")
	assert.Contains(t, out, "3.10%")
	assert.Contains(t, out, "WON")
	assert.Contains(t, out, string(model.PathWallet))
}

func TestRenderSession(t *testing.T) {
	out := renderSession(model.SessionActive, &model.SessionGrant{
		Delegate:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		MaxBetAmount: model.ToWei(decimal.NewFromInt(5)),
	}, true)
	assert.Contains(t, out, "active")
	assert.Contains(t, strings.ToLower(out), "0x00000000000000000000000000000000000000aa")
	assert.Contains(t, out, "Max bet:  5")
	assert.Contains(t, out, "Skip wallet popup: true")
}
