package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
)

var ErrMissingColumn = errors.New("missing column")

// NormalizeBet 把一行 betplaced left join betresolved 转为 BetEvent
//
// 金额为最小单位, 转为代币数量; 赔率和结果转为百分比。
func NormalizeBet(row Row) (*model.BetEvent, error) {
	betID, err := row.bigInt("betid")
	if err != nil {
		return nil, err
	}
	player, err := row.address("player")
	if err != nil {
		return nil, err
	}
	amount, _ := row.bigInt("amount")
	odds, _ := row.bigInt("targetodds")
	block, _ := row.bigInt("blocknumber")

	ev := &model.BetEvent{
		BetID:      betID,
		Player:     player,
		Amount:     model.FromWei(amount),
		TargetOdds: decimal.Zero,
		TxHash:     row.hash("tx_hash"),
		Timestamp:  row.timestamp("block_time"),
	}
	if odds != nil {
		ev.TargetOdds = outcome.OddsToPercent(odds)
	}
	if block != nil && block.IsUint64() {
		ev.PlacementBlock = block.Uint64()
	}

	// left join 未命中时 resolved 列为空
	if won, ok := row.flag("won"); ok {
		ev.Resolved = true
		ev.Won = won
		payout, _ := row.bigInt("payout")
		ev.Payout = model.FromWei(payout)
		if res, err := row.bigInt("result"); err == nil && res.IsUint64() && res.Uint64() <= outcome.MaxBasisPoints {
			ev.Result = outcome.Result{BasisPoints: res.Uint64()}.Percentage()
		}
		ev.ResolvedTx = row.hash("resolvedtx")
	}
	return ev, nil
}

// ClassifyExpiry 未开奖且 head - placementBlock > claimWindow 时标记过期; head 为 0 表示未知
func ClassifyExpiry(ev *model.BetEvent, head, claimWindow uint64) {
	ev.Expired = !ev.Resolved && head > 0 && ev.PlacementBlock > 0 &&
		model.IsExpired(ev.PlacementBlock, head, claimWindow)
}

// NormalizeVault 资金池存取行
func NormalizeVault(row Row) (*model.VaultEvent, error) {
	kind, ok := row.text("kind")
	if !ok {
		return nil, fmt.Errorf("%w: kind", ErrMissingColumn)
	}
	owner, err := row.address("owner")
	if err != nil {
		return nil, err
	}
	assets, _ := row.bigInt("assets")
	shares, _ := row.bigInt("shares")
	block, _ := row.bigInt("block_num")

	ev := &model.VaultEvent{
		Kind:      model.VaultEventKind(strings.ToLower(kind)),
		Owner:     owner,
		Assets:    model.FromWei(assets),
		Shares:    model.FromWei(shares),
		TxHash:    row.hash("tx_hash"),
		Timestamp: row.timestamp("block_time"),
	}
	if ev.Kind != model.VaultDeposit && ev.Kind != model.VaultWithdraw {
		return nil, fmt.Errorf("unknown vault event kind %q", kind)
	}
	if block != nil && block.IsUint64() {
		ev.BlockNumber = block.Uint64()
	}
	return ev, nil
}

func (r Row) text(col string) (string, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// bigInt 数值列可能是十进制字符串、0x 十六进制或 JSON 数字
func (r Row) bigInt(col string) (*big.Int, error) {
	s, ok := r.text(col)
	if !ok || s == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
	}
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("column %s: invalid number %q", col, s)
		}
		n = d.Truncate(0).BigInt()
	}
	return n, nil
}

func (r Row) address(col string) (common.Address, error) {
	s, ok := r.text(col)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrMissingColumn, col)
	}
	return common.HexToAddress(s), nil
}

func (r Row) hash(col string) common.Hash {
	s, _ := r.text(col)
	return common.HexToHash(s)
}

func (r Row) flag(col string) (bool, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	default:
		return false, false
	}
}

// timestamp 秒级 unix 时间或 RFC3339 字符串
func (r Row) timestamp(col string) int64 {
	s, ok := r.text(col)
	if !ok || s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix()
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.Unix()
	}
	return 0
}
