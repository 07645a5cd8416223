package model

import "github.com/shopspring/decimal"

// PlacementPath 下注/开奖途径
type PlacementPath string

const (
	PathWallet    PlacementPath = "wallet"
	PathSession   PlacementPath = "session"
	PathSponsored PlacementPath = "sponsored"
	// PathExternal 由其他流程 (自动开奖) 完成
	PathExternal  PlacementPath = "external"
)

// JournalOutcome 流水结果
type JournalOutcome int8

const (
	JournalPending JournalOutcome = 0
	JournalWon     JournalOutcome = 1
	JournalLost    JournalOutcome = 2
	JournalExpired JournalOutcome = 3
	JournalFailed  JournalOutcome = 4
)

func (o JournalOutcome) String() string {
	switch o {
	case JournalPending:
		return "PENDING"
	case JournalWon:
		return "WON"
	case JournalLost:
		return "LOST"
	case JournalExpired:
		return "EXPIRED"
	case JournalFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// BetRecord 本地下注流水
type BetRecord struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	BetID          string          `gorm:"column:bet_id;type:varchar(78);uniqueIndex;not null" json:"bet_id"`
	Player         string          `gorm:"column:player;type:varchar(42);index;not null" json:"player"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null" json:"amount"`
	TargetOdds     decimal.Decimal `gorm:"column:target_odds;type:decimal(10,4);not null" json:"target_odds"`
	PlacementBlock int64           `gorm:"column:placement_block;type:bigint" json:"placement_block"`
	PlacePath      PlacementPath   `gorm:"column:place_path;type:varchar(16)" json:"place_path"`
	PlaceTxHash    string          `gorm:"column:place_tx_hash;type:varchar(66)" json:"place_tx_hash"`
	ClaimPath      PlacementPath   `gorm:"column:claim_path;type:varchar(16)" json:"claim_path"`
	ClaimTxHash    string          `gorm:"column:claim_tx_hash;type:varchar(66)" json:"claim_tx_hash"`
	Outcome        JournalOutcome  `gorm:"column:outcome;type:smallint;index;not null;default:0" json:"outcome"`
	Payout         decimal.Decimal `gorm:"column:payout;type:decimal(36,18);not null;default:0" json:"payout"`
	ResultBP       int64           `gorm:"column:result_bp;type:int;not null;default:-1" json:"result_bp"`
	ErrorMessage   string          `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CreatedAt      int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt      int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (BetRecord) TableName() string {
	return "clawdice_bet_journal"
}

// KVEntry 本地键值存储 (SQL 后端)
type KVEntry struct {
	Key       string `gorm:"column:kv_key;type:varchar(128);primaryKey" json:"key"`
	Value     string `gorm:"column:value;type:text;not null" json:"value"`
	UpdatedAt int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (KVEntry) TableName() string {
	return "clawdice_kv"
}
