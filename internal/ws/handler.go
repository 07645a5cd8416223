package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

// Handler WebSocket 处理器
type Handler struct {
	hub      *Hub
	cfg      Config
	upgrader websocket.Upgrader
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(hub *Hub, cfg Config) *Handler {
	return &Handler{
		hub: hub,
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 控制接口只监听本机地址
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection 处理 WebSocket 连接
// GET /ws?channels=state,reveals
func (h *Handler) HandleConnection(c *gin.Context) {
	if h.hub.ClientCount() >= h.cfg.MaxConnections {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "SERVICE_UNAVAILABLE",
			"message": "too many connections",
		})
		return
	}

	channels, ok := parseChannels(c.Query("channels"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_REQUEST",
			"message": "invalid channel",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), h.hub, conn, h.cfg)
	logger.Info("websocket client connected",
		zap.String("client", client.ID()),
		zap.String("remote", c.Request.RemoteAddr))

	h.hub.Register(client)
	for _, ch := range channels {
		h.hub.Subscribe(client, ch)
	}

	go client.WritePump()
	go client.ReadPump()
}

// parseChannels 为空时订阅全部频道
func parseChannels(raw string) ([]Channel, bool) {
	if strings.TrimSpace(raw) == "" {
		return AllChannels, true
	}
	var out []Channel
	for _, part := range strings.Split(raw, ",") {
		ch := Channel(strings.TrimSpace(part))
		if !isValidChannel(ch) {
			return nil, false
		}
		out = append(out, ch)
	}
	return out, true
}
