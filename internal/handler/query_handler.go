package handler

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/repository"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

// HistoryService 已索引的下注与资金池记录
type HistoryService interface {
	BetHistory(ctx context.Context, player common.Address, limit int) ([]*model.BetEvent, error)
	VaultHistory(ctx context.Context, owner common.Address, limit int) ([]*model.VaultEvent, error)
}

// VaultReader 资金池合约读取
type VaultReader interface {
	TotalAssets(ctx context.Context) (*big.Int, error)
	SharesOf(ctx context.Context, account common.Address) (*big.Int, error)
	ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error)
}

// QueryHandler 只读查询处理器
type QueryHandler struct {
	calc    *outcome.Calculator
	history HistoryService
	journal repository.JournalRepository
	vault   VaultReader
	player  common.Address
}

// NewQueryHandler 创建查询处理器; history/journal 可为空, player 为默认查询地址
func NewQueryHandler(calc *outcome.Calculator, history HistoryService, journal repository.JournalRepository, player common.Address) *QueryHandler {
	return &QueryHandler{calc: calc, history: history, journal: journal, player: player}
}

// WithVault 设置资金池合约, 未设置时 /vault 返回 503
func (h *QueryHandler) WithVault(v VaultReader) *QueryHandler {
	h.vault = v
	return h
}

// OutcomeResponse 结果计算
type OutcomeResponse struct {
	BetID       string          `json:"bet_id"`
	BlockHash   common.Hash     `json:"block_hash"`
	BasisPoints uint64          `json:"basis_points"`
	Percentage  string          `json:"percentage"`
	Threshold   string          `json:"threshold,omitempty"`
	Won         *bool           `json:"won,omitempty"`
	Payout      decimal.Decimal `json:"payout"`
}

// Outcome 按 betId 与目标区块哈希计算结果, 给出赔率时同时判定输赢
// GET /api/v1/outcome?bet_id=&block_hash=&odds=&amount=
func (h *QueryHandler) Outcome(c *gin.Context) {
	betID, err := ParseBetID(c.Query("bet_id"))
	if err != nil {
		Error(c, err)
		return
	}
	rawHash := c.Query("block_hash")
	hashBytes := common.FromHex(rawHash)
	if len(hashBytes) != common.HashLength {
		BadRequest(c, "block_hash must be 32 bytes")
		return
	}
	hash := common.BytesToHash(hashBytes)

	res, err := outcome.Compute(betID, hash)
	if err != nil {
		Error(c, err)
		return
	}
	resp := &OutcomeResponse{
		BetID:       betID.String(),
		BlockHash:   hash,
		BasisPoints: res.BasisPoints,
		Percentage:  res.Percentage().StringFixed(2),
		Payout:      decimal.Zero,
	}

	if c.Query("odds") != "" {
		odds, err := ParseOdds(c.Query("odds"))
		if err != nil {
			Error(c, err)
			return
		}
		amount := new(big.Int)
		if c.Query("amount") != "" {
			if amount, err = ParseAmount(c.Query("amount")); err != nil {
				Error(c, err)
				return
			}
		}
		ev, err := h.calc.Evaluate(betID, hash, amount, odds)
		if err != nil {
			Error(c, err)
			return
		}
		won := ev.Won
		resp.Won = &won
		resp.Payout = model.FromWei(ev.Payout)
		resp.Threshold = outcome.Threshold(odds, h.calc.HouseEdgeBP()).Shift(-2).StringFixed(2)
	}
	Success(c, resp)
}

// BetHistory 已索引的下注记录
// GET /api/v1/history?player=&limit=
func (h *QueryHandler) BetHistory(c *gin.Context) {
	if h.history == nil {
		Error(c, bizerr.ErrUnavailable.WithMessage("indexer not configured"))
		return
	}
	player, err := h.address(c, "player")
	if err != nil {
		Error(c, err)
		return
	}
	events, err := h.history.BetHistory(c.Request.Context(), player, queryInt(c, "limit", 50, 500))
	if err != nil {
		Error(c, err)
		return
	}
	type item struct {
		*model.BetEvent
		Status string `json:"status"`
	}
	items := make([]item, 0, len(events))
	for _, ev := range events {
		items = append(items, item{BetEvent: ev, Status: ev.DisplayStatus()})
	}
	Success(c, items)
}

// VaultHistory 资金池存取记录
// GET /api/v1/vault/history?owner=&limit=
func (h *QueryHandler) VaultHistory(c *gin.Context) {
	if h.history == nil {
		Error(c, bizerr.ErrUnavailable.WithMessage("indexer not configured"))
		return
	}
	owner, err := h.address(c, "owner")
	if err != nil {
		Error(c, err)
		return
	}
	events, err := h.history.VaultHistory(c.Request.Context(), owner, queryInt(c, "limit", 50, 500))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, events)
}

// VaultSummary 资金池概况
type VaultSummary struct {
	TotalAssets decimal.Decimal `json:"total_assets"`
	Owner       common.Address  `json:"owner"`
	Shares      decimal.Decimal `json:"shares"`
	Assets      decimal.Decimal `json:"assets"`
}

// Vault 资金池总资产与地址持仓
// GET /api/v1/vault?owner=
func (h *QueryHandler) Vault(c *gin.Context) {
	if h.vault == nil {
		Error(c, bizerr.ErrUnavailable.WithMessage("vault not configured"))
		return
	}
	owner, err := h.address(c, "owner")
	if err != nil {
		Error(c, err)
		return
	}
	ctx := c.Request.Context()
	total, err := h.vault.TotalAssets(ctx)
	if err != nil {
		Error(c, err)
		return
	}
	shares, err := h.vault.SharesOf(ctx, owner)
	if err != nil {
		Error(c, err)
		return
	}
	assets := new(big.Int)
	if shares.Sign() > 0 {
		if assets, err = h.vault.ConvertToAssets(ctx, shares); err != nil {
			Error(c, err)
			return
		}
	}
	Success(c, &VaultSummary{
		TotalAssets: model.FromWei(total),
		Owner:       owner,
		Shares:      model.FromWei(shares),
		Assets:      model.FromWei(assets),
	})
}

// Journal 本地下注流水
// GET /api/v1/journal?player=&page=&page_size=
func (h *QueryHandler) Journal(c *gin.Context) {
	if h.journal == nil {
		Error(c, bizerr.ErrUnavailable.WithMessage("journal not configured"))
		return
	}
	player, err := h.address(c, "player")
	if err != nil {
		Error(c, err)
		return
	}
	page := &repository.Pagination{
		Page:     queryInt(c, "page", 1, 1<<20),
		PageSize: queryInt(c, "page_size", 20, 100),
	}
	recs, err := h.journal.ListByPlayer(c.Request.Context(), player.Hex(), page)
	if err != nil {
		Error(c, err)
		return
	}
	SuccessPaged(c, recs, page.Total, page.Page, page.PageSize)
}

// JournalEntry 单条流水
// GET /api/v1/journal/:bet_id
func (h *QueryHandler) JournalEntry(c *gin.Context) {
	if h.journal == nil {
		Error(c, bizerr.ErrUnavailable.WithMessage("journal not configured"))
		return
	}
	betID, err := ParseBetID(c.Param("bet_id"))
	if err != nil {
		Error(c, err)
		return
	}
	rec, err := h.journal.GetByBetID(c.Request.Context(), betID.String())
	if errors.Is(err, repository.ErrBetRecordNotFound) {
		Error(c, bizerr.ErrNotFound.WithDetail("bet_id", betID.String()))
		return
	}
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, rec)
}

// address 查询参数为空时使用默认地址
func (h *QueryHandler) address(c *gin.Context, key string) (common.Address, error) {
	addr, err := parseAddress(c.Query(key))
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return h.player, nil
	}
	return addr, nil
}
