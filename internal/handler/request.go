package handler

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

// PlaceBetRequest 下注请求
type PlaceBetRequest struct {
	Amount string `json:"amount" binding:"required"` // 代币数量, 十进制
	Odds   string `json:"odds" binding:"required"`   // 获胜概率百分比
	// UseSession 为空时按 skipWalletPopup 偏好
	UseSession *bool `json:"use_session"`
	// Wait 为 true 时等到出结果再返回
	Wait bool `json:"wait"`
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	Duration string `json:"duration"` // 例如 "24h", 为空用默认值
	MaxBet   string `json:"max_bet"`  // 代币数量, 为空用默认值
}

// PreferencesRequest 偏好设置
type PreferencesRequest struct {
	SkipWalletPopup bool `json:"skip_wallet_popup"`
}

// ParseAmount 正的代币数量转为最小单位
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsPositive() {
		return nil, bizerr.ErrInvalidAmount.WithDetail(bizerr.DetailRaw, s)
	}
	wei := model.ToWei(d)
	if wei.Sign() <= 0 {
		return nil, bizerr.ErrInvalidAmount.WithDetail(bizerr.DetailRaw, s)
	}
	return wei, nil
}

// ParseOdds 百分比转为 1e18 定点赔率
func ParseOdds(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, bizerr.ErrInvalidOdds.WithDetail(bizerr.DetailRaw, s)
	}
	return outcome.OddsFromPercent(d)
}

// ParseBetID 十进制 betId
func ParseBetID(s string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || id.Sign() < 0 {
		return nil, bizerr.ErrInvalidRequest.WithMessage("invalid bet id").WithDetail(bizerr.DetailRaw, s)
	}
	return id, nil
}

func parseAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, bizerr.ErrInvalidRequest.WithMessage("invalid address").WithDetail(bizerr.DetailRaw, s)
	}
	return common.HexToAddress(s), nil
}

// queryInt 读取整数参数, 越界时截断到 [1, max]
func queryInt(c *gin.Context, key string, def, max int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
