// Package outcome 复现合约的随机数到百分比映射, 以及输赢判定和赔付计算。
package outcome

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

const (
	// MaxBasisPoints 结果上界 (100.00%)
	MaxBasisPoints = 10000
	// DefaultHouseEdgeBP 默认庄家优势 1%
	DefaultHouseEdgeBP = 100
)

var (
	// OddsScale 1e18 表示 100%
	OddsScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	bpScale    = big.NewInt(MaxBasisPoints)
)

// ErrResultUnknown 目标区块哈希不可用, 无法计算结果
var ErrResultUnknown = bizerr.ErrResultUnknown

// ErrInvalidBetID 下注 ID 为空或为负
var ErrInvalidBetID = errors.New("bet id must be a non-negative uint256")

// Result 一次下注的随机结果
type Result struct {
	Random      *big.Int `json:"random"`
	BasisPoints uint64   `json:"basis_points"`
}

// Percentage 两位小数的百分比
func (r Result) Percentage() decimal.Decimal {
	return decimal.New(int64(r.BasisPoints), -2)
}

// Compute 计算 keccak256(abi.encodePacked(uint256 betId, bytes32 blockHash)) 并缩放到 0..10000
func Compute(betID *big.Int, blockHash common.Hash) (Result, error) {
	if blockHash == (common.Hash{}) {
		return Result{}, ErrResultUnknown
	}
	if betID == nil || betID.Sign() < 0 || betID.BitLen() > 256 {
		return Result{}, ErrInvalidBetID
	}

	packed := make([]byte, 0, 64)
	packed = append(packed, math.U256Bytes(new(big.Int).Set(betID))...)
	packed = append(packed, blockHash.Bytes()...)

	random := new(big.Int).SetBytes(crypto.Keccak256(packed))
	return Result{Random: random, BasisPoints: ScaleToBasisPoints(random)}, nil
}

// ScaleToBasisPoints random * 10000 / (2^256 - 1)
func ScaleToBasisPoints(random *big.Int) uint64 {
	bp := new(big.Int).Mul(random, bpScale)
	bp.Quo(bp, maxUint256)
	return bp.Uint64()
}

// Threshold 扣除庄家优势后的获胜阈值 (基点, 可能带小数)
func Threshold(targetOdds *big.Int, houseEdgeBP int64) decimal.Decimal {
	adjusted := new(big.Int).Mul(targetOdds, big.NewInt(MaxBasisPoints-houseEdgeBP))
	return decimal.NewFromBigInt(adjusted, -18)
}

// IsWin resultPercentage < targetOdds * (1 - houseEdge), 全整数比较
func IsWin(basisPoints uint64, targetOdds *big.Int, houseEdgeBP int64) bool {
	lhs := new(big.Int).Mul(new(big.Int).SetUint64(basisPoints), OddsScale)
	rhs := new(big.Int).Mul(targetOdds, big.NewInt(MaxBasisPoints-houseEdgeBP))
	return lhs.Cmp(rhs) < 0
}

// GrossPayout amount * 100% / targetOdds, 庄家优势由合约扣除
func GrossPayout(amount, targetOdds *big.Int) *big.Int {
	if targetOdds == nil || targetOdds.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, OddsScale)
	return out.Quo(out, targetOdds)
}

// Calculator 绑定了庄家优势的计算器
type Calculator struct {
	houseEdgeBP int64
}

// NewCalculator 创建计算器, houseEdgeBP 为 0 时使用默认值
func NewCalculator(houseEdgeBP int64) *Calculator {
	if houseEdgeBP == 0 {
		houseEdgeBP = DefaultHouseEdgeBP
	}
	return &Calculator{houseEdgeBP: houseEdgeBP}
}

// HouseEdgeBP 庄家优势 (基点)
func (c *Calculator) HouseEdgeBP() int64 { return c.houseEdgeBP }

// Evaluation 完整判定结果
type Evaluation struct {
	Result
	Won    bool     `json:"won"`
	Payout *big.Int `json:"payout"`
}

// Evaluate 计算结果并判定输赢
func (c *Calculator) Evaluate(betID *big.Int, blockHash common.Hash, amount, targetOdds *big.Int) (Evaluation, error) {
	res, err := Compute(betID, blockHash)
	if err != nil {
		return Evaluation{}, err
	}
	ev := Evaluation{Result: res, Payout: new(big.Int)}
	if IsWin(res.BasisPoints, targetOdds, c.houseEdgeBP) {
		ev.Won = true
		ev.Payout = GrossPayout(amount, targetOdds)
	}
	return ev, nil
}

// Won 按已知基点判定输赢
func (c *Calculator) Won(basisPoints uint64, targetOdds *big.Int) bool {
	return IsWin(basisPoints, targetOdds, c.houseEdgeBP)
}

// OddsFromPercent 百分比 (可带小数) 转为 1e18 定点赔率
func OddsFromPercent(percent decimal.Decimal) (*big.Int, error) {
	if !percent.IsPositive() || percent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return nil, bizerr.ErrInvalidOdds.WithDetail(bizerr.DetailRaw, percent.String())
	}
	return percent.Shift(16).BigInt(), nil
}

// OddsToPercent 1e18 定点赔率转为百分比
func OddsToPercent(odds *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(odds, -16)
}
