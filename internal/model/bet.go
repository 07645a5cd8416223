package model

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BetStatus 下注状态
type BetStatus int8

const (
	BetStatusCreated       BetStatus = 0 // 下注交易已确认
	BetStatusAwaitingBlock BetStatus = 1 // 等待 placementBlock+1 出块
	BetStatusClaimable     BetStatus = 2 // 可开奖
	BetStatusClaimed       BetStatus = 3 // 已开奖 (输赢已定)
	BetStatusExpired       BetStatus = 4 // 超过开奖窗口
)

func (s BetStatus) String() string {
	switch s {
	case BetStatusCreated:
		return "created"
	case BetStatusAwaitingBlock:
		return "awaiting-block"
	case BetStatusClaimable:
		return "claimable"
	case BetStatusClaimed:
		return "claimed"
	case BetStatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Bet 链上下注记录
type Bet struct {
	BetID          *big.Int       `json:"bet_id"`
	Player         common.Address `json:"player"`
	Amount         *big.Int       `json:"amount"`
	TargetOdds     *big.Int       `json:"target_odds"`
	PlacementBlock uint64         `json:"placement_block"`
	Claimed        bool           `json:"claimed"`
	Won            bool           `json:"won"`
	Payout         *big.Int       `json:"payout"`
}

// Exists 合约对不存在的下注返回零值记录
func (b *Bet) Exists() bool {
	return b != nil && b.Player != (common.Address{})
}

// TargetBlock 决定结果的区块
func (b *Bet) TargetBlock() uint64 {
	return b.PlacementBlock + 1
}

// Status 按当前区块高度推导状态
func (b *Bet) Status(head, claimWindow uint64) BetStatus {
	switch {
	case b.Claimed:
		return BetStatusClaimed
	case b.PlacementBlock == 0:
		return BetStatusCreated
	case head <= b.TargetBlock():
		return BetStatusAwaitingBlock
	case IsExpired(b.PlacementBlock, head, claimWindow):
		return BetStatusExpired
	default:
		return BetStatusClaimable
	}
}

// OwnedBy 地址比较不区分大小写
func (b *Bet) OwnedBy(addr common.Address) bool {
	return b.Exists() && SameAddress(b.Player.Hex(), addr.Hex())
}

// IsExpired 未开奖且 head - placementBlock > claimWindow
func IsExpired(placementBlock, head, claimWindow uint64) bool {
	return head > placementBlock && head-placementBlock > claimWindow
}

// SameAddress 不区分大小写比较十六进制地址
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// BetOutcome 一次开奖的结果
type BetOutcome struct {
	BetID       *big.Int        `json:"bet_id"`
	Won         bool            `json:"won"`
	Payout      *big.Int        `json:"payout"`
	BasisPoints uint64          `json:"basis_points"`
	Percentage  decimal.Decimal `json:"percentage"`
	HasResult   bool            `json:"has_result"`
	TxHash      common.Hash     `json:"tx_hash"`
}
