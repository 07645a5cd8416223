// Package router 控制接口路由注册
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/handler"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/middleware"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/ws"
)

// Handlers 路由依赖的处理器, Reveal/Session 为空时不注册对应路由
type Handlers struct {
	Health  *handler.HealthHandler
	Bet     *handler.BetHandler
	Reveal  *handler.RevealHandler
	Session *handler.SessionHandler
	Query   *handler.QueryHandler
	WS      *ws.Handler
}

// Router 路由管理器
type Router struct {
	engine *gin.Engine
}

// New 创建路由管理器
func New(engine *gin.Engine) *Router {
	return &Router{engine: engine}
}

// RegisterMiddleware 注册全局中间件
func (r *Router) RegisterMiddleware() {
	// Recovery → Trace → Logger → Metrics
	r.engine.Use(
		middleware.Recovery(),
		middleware.Trace(),
		middleware.Logger(),
		middleware.Metrics(),
	)
}

// RegisterRoutes 注册路由
func (r *Router) RegisterRoutes(h Handlers) {
	r.engine.GET("/health/live", h.Health.Live)
	r.engine.GET("/health/ready", h.Health.Ready)
	r.engine.GET("/healthz", h.Health.Ready)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.engine.Group("/api/v1")

	v1.GET("/state", h.Bet.State)
	v1.POST("/bets", h.Bet.PlaceBet)
	v1.POST("/reset", h.Bet.Reset)

	if h.Reveal != nil {
		v1.GET("/reveals", h.Reveal.List)
		v1.DELETE("/reveals/:bet_id", h.Reveal.Dismiss)
	}

	if h.Session != nil {
		sessions := v1.Group("/session")
		{
			sessions.GET("", h.Session.Status)
			sessions.POST("", h.Session.Create)
			sessions.DELETE("", h.Session.Revoke)
			sessions.PUT("/preferences", h.Session.SetPreferences)
		}
	}

	v1.GET("/outcome", h.Query.Outcome)
	v1.GET("/history", h.Query.BetHistory)
	v1.GET("/vault", h.Query.Vault)
	v1.GET("/vault/history", h.Query.VaultHistory)
	v1.GET("/journal", h.Query.Journal)
	v1.GET("/journal/:bet_id", h.Query.JournalEntry)

	if h.WS != nil {
		r.engine.GET("/ws", h.WS.HandleConnection)
	}
}
