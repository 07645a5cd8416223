package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/game"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
)

// BetService 下注流程
type BetService interface {
	State() game.State
	Start(ctx context.Context, req game.Request) (string, error)
	PlaceBet(ctx context.Context, req game.Request) (*model.BetOutcome, error)
	Reset()
}

// PreferenceSource 读取 skipWalletPopup 偏好
type PreferenceSource interface {
	SkipWalletPopup(ctx context.Context) bool
}

// BetHandler 下注处理器
type BetHandler struct {
	svc   BetService
	prefs PreferenceSource
}

// NewBetHandler 创建下注处理器, prefs 可为空
func NewBetHandler(svc BetService, prefs PreferenceSource) *BetHandler {
	return &BetHandler{svc: svc, prefs: prefs}
}

// PlaceBetResponse 下注响应
type PlaceBetResponse struct {
	FlowID  string            `json:"flow_id,omitempty"`
	Outcome *model.BetOutcome `json:"outcome,omitempty"`
	// Foreign 开奖事件属于其他玩家, 流程已回到 idle
	Foreign bool       `json:"foreign,omitempty"`
	State   game.State `json:"state"`
}

// State 当前流程状态
// GET /api/v1/state
func (h *BetHandler) State(c *gin.Context) {
	Success(c, h.svc.State())
}

// PlaceBet 下注
// POST /api/v1/bets
func (h *BetHandler) PlaceBet(c *gin.Context) {
	var req PlaceBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		Error(c, err)
		return
	}
	odds, err := ParseOdds(req.Odds)
	if err != nil {
		Error(c, err)
		return
	}

	useSession := false
	if req.UseSession != nil {
		useSession = *req.UseSession
	} else if h.prefs != nil {
		useSession = h.prefs.SkipWalletPopup(c.Request.Context())
	}
	greq := game.Request{Amount: amount, TargetOdds: odds.Uint64(), UseSession: useSession}

	if !req.Wait {
		flowID, err := h.svc.Start(c.Request.Context(), greq)
		if err != nil {
			Error(c, err)
			return
		}
		Success(c, &PlaceBetResponse{FlowID: flowID, State: h.svc.State()})
		return
	}

	out, err := h.svc.PlaceBet(c.Request.Context(), greq)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, &PlaceBetResponse{Outcome: out, Foreign: out == nil, State: h.svc.State()})
}

// Reset 回到 idle
// POST /api/v1/reset
func (h *BetHandler) Reset(c *gin.Context) {
	h.svc.Reset()
	Success(c, h.svc.State())
}
