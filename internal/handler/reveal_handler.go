package handler

import (
	"math/big"

	"github.com/gin-gonic/gin"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/reveal"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

// RevealService 自动开奖结果
type RevealService interface {
	Results() []reveal.Reveal
	Dismiss(betID *big.Int) bool
}

// RevealHandler 自动开奖结果处理器
type RevealHandler struct {
	svc RevealService
}

// NewRevealHandler 创建处理器
func NewRevealHandler(svc RevealService) *RevealHandler {
	return &RevealHandler{svc: svc}
}

// List 未关闭的结果
// GET /api/v1/reveals
func (h *RevealHandler) List(c *gin.Context) {
	Success(c, h.svc.Results())
}

// Dismiss 关闭一条结果
// DELETE /api/v1/reveals/:bet_id
func (h *RevealHandler) Dismiss(c *gin.Context) {
	betID, err := ParseBetID(c.Param("bet_id"))
	if err != nil {
		Error(c, err)
		return
	}
	if !h.svc.Dismiss(betID) {
		Error(c, bizerr.ErrNotFound.WithDetail("bet_id", betID.String()))
		return
	}
	Success(c, h.svc.Results())
}
