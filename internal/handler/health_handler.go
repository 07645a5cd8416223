package handler

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger 依赖检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 函数适配为 Pinger
type PingFunc func(ctx context.Context) error

// Ping 调用 f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthDeps 健康检查依赖
type HealthDeps struct {
	Chain   Pinger
	Storage Pinger
	Indexer Pinger
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	ready   atomic.Bool
	deps    *HealthDeps
	timeout time.Duration
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(deps *HealthDeps) *HealthHandler {
	return &HealthHandler{deps: deps, timeout: 3 * time.Second}
}

// SetReady 设置就绪状态
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Live 存活探针
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready 就绪探针
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "service initializing",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	allOK := true
	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			allOK = false
			return
		}
		checks[name] = "ok"
	}
	if h.deps != nil {
		check("chain", h.deps.Chain)
		check("storage", h.deps.Storage)
		check("indexer", h.deps.Indexer)
	}

	if !allOK {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}
