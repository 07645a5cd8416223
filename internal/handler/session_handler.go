package handler

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/session"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

// SessionService 会话授权
type SessionService interface {
	Status() model.SessionStatus
	Grant() *model.SessionGrant
	Create(ctx context.Context, wallet blockchain.Wallet, duration time.Duration, maxBet *big.Int) (*model.SessionGrant, error)
	Revoke(ctx context.Context, wallet blockchain.Wallet) error
	SkipWalletPopup(ctx context.Context) bool
	SetSkipWalletPopup(ctx context.Context, skip bool) error
}

// SessionHandler 会话处理器
type SessionHandler struct {
	svc    SessionService
	wallet blockchain.Wallet
}

// NewSessionHandler 创建会话处理器, 创建与撤销都需要钱包签名
func NewSessionHandler(svc SessionService, wallet blockchain.Wallet) *SessionHandler {
	return &SessionHandler{svc: svc, wallet: wallet}
}

// SessionStatusResponse 会话状态
type SessionStatusResponse struct {
	Status          model.SessionStatus `json:"status"`
	Grant           *model.SessionGrant `json:"grant,omitempty"`
	SkipWalletPopup bool                `json:"skip_wallet_popup"`
}

// Status 会话状态
// GET /api/v1/session
func (h *SessionHandler) Status(c *gin.Context) {
	Success(c, h.status(c.Request.Context()))
}

func (h *SessionHandler) status(ctx context.Context) *SessionStatusResponse {
	return &SessionStatusResponse{
		Status:          h.svc.Status(),
		Grant:           h.svc.Grant(),
		SkipWalletPopup: h.svc.SkipWalletPopup(ctx),
	}
}

// Create 创建会话
// POST /api/v1/session
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	var duration time.Duration
	if strings.TrimSpace(req.Duration) != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			BadRequest(c, "invalid duration")
			return
		}
		duration = d
	}
	var maxBet *big.Int
	if strings.TrimSpace(req.MaxBet) != "" {
		v, err := ParseAmount(req.MaxBet)
		if err != nil {
			Error(c, err)
			return
		}
		maxBet = v
	}

	if h.wallet == nil {
		Error(c, bizerr.ErrNoWallet)
		return
	}
	if _, err := h.svc.Create(c.Request.Context(), h.wallet, duration, maxBet); err != nil {
		Error(c, sessionError(err))
		return
	}
	Success(c, h.status(c.Request.Context()))
}

// Revoke 撤销会话; 链上撤销失败时本地会话仍被清除, 错误照常返回
// DELETE /api/v1/session
func (h *SessionHandler) Revoke(c *gin.Context) {
	if h.wallet == nil {
		Error(c, bizerr.ErrNoWallet)
		return
	}
	if err := h.svc.Revoke(c.Request.Context(), h.wallet); err != nil {
		Error(c, sessionError(err))
		return
	}
	Success(c, h.status(c.Request.Context()))
}

// SetPreferences 保存偏好
// PUT /api/v1/session/preferences
func (h *SessionHandler) SetPreferences(c *gin.Context) {
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := h.svc.SetSkipWalletPopup(c.Request.Context(), req.SkipWalletPopup); err != nil {
		Error(c, err)
		return
	}
	Success(c, h.status(c.Request.Context()))
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrCreateInProgress):
		return bizerr.Wrap(bizerr.ErrSessionCreating, err)
	case errors.Is(err, session.ErrInvalidDuration):
		return bizerr.Wrap(bizerr.ErrInvalidRequest, err)
	default:
		return err
	}
}
