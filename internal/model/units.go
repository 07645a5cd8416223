package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals 下注代币精度
const TokenDecimals = 18

// ToWei 代币数量转为最小单位, 多余精度截断
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(TokenDecimals).Truncate(0).BigInt()
}

// FromWei 最小单位转为代币数量
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -TokenDecimals)
}
