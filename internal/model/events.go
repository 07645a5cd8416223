package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BetEvent 索引服务归一化后的下注记录
type BetEvent struct {
	BetID          *big.Int        `json:"bet_id"`
	Player         common.Address  `json:"player"`
	Amount         decimal.Decimal `json:"amount"`
	TargetOdds     decimal.Decimal `json:"target_odds"` // 百分比
	PlacementBlock uint64          `json:"placement_block"`
	TxHash         common.Hash     `json:"tx_hash"`
	Timestamp      int64           `json:"timestamp"`

	Resolved   bool            `json:"resolved"`
	Won        bool            `json:"won"`
	Payout     decimal.Decimal `json:"payout"`
	Result     decimal.Decimal `json:"result"` // 百分比
	ResolvedTx common.Hash     `json:"resolved_tx"`
	Expired    bool            `json:"expired"`
}

// DisplayStatus pending/won/lost/expired
func (e *BetEvent) DisplayStatus() string {
	switch {
	case e.Resolved && e.Won:
		return "won"
	case e.Resolved:
		return "lost"
	case e.Expired:
		return "expired"
	default:
		return "pending"
	}
}

// VaultEventKind 资金池事件类型
type VaultEventKind string

const (
	VaultDeposit  VaultEventKind = "deposit"
	VaultWithdraw VaultEventKind = "withdraw"
)

// VaultEvent 资金池存取记录
type VaultEvent struct {
	Kind        VaultEventKind  `json:"kind"`
	Owner       common.Address  `json:"owner"`
	Assets      decimal.Decimal `json:"assets"`
	Shares      decimal.Decimal `json:"shares"`
	BlockNumber uint64          `json:"block_number"`
	TxHash      common.Hash     `json:"tx_hash"`
	Timestamp   int64           `json:"timestamp"`
}

// LifecycleEvent 对外发布的下注生命周期事件
type LifecycleEvent struct {
	Type        string          `json:"type"` // placed, settled, revealed
	BetID       string          `json:"bet_id"`
	Player      string          `json:"player"`
	Amount      decimal.Decimal `json:"amount"`
	TargetOdds  decimal.Decimal `json:"target_odds"`
	Path        string          `json:"path,omitempty"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Won         *bool           `json:"won,omitempty"`
	Payout      decimal.Decimal `json:"payout"`
	Result      string          `json:"result,omitempty"`
	OccurredAt  int64           `json:"occurred_at"`
	CorrelateID string          `json:"correlate_id"`
}
