package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

// Config WebSocket 连接配置
type Config struct {
	MaxConnections int
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteWait      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConnections == 0 {
		c.MaxConnections = 64
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 4096
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.WriteWait == 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// Client WebSocket 客户端
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	cfg  Config

	subscriptions map[Channel]bool
	subMu         sync.RWMutex

	closeOnce sync.Once
	closed    bool
	closedMu  sync.RWMutex
}

// NewClient 创建客户端
func NewClient(id string, hub *Hub, conn *websocket.Conn, cfg Config) *Client {
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 64),
		cfg:           cfg.withDefaults(),
		subscriptions: make(map[Channel]bool),
	}
}

// ID 客户端 ID
func (c *Client) ID() string { return c.id }

// AddSubscription 添加订阅
func (c *Client) AddSubscription(ch Channel) {
	c.subMu.Lock()
	c.subscriptions[ch] = true
	c.subMu.Unlock()
}

// RemoveSubscription 移除订阅
func (c *Client) RemoveSubscription(ch Channel) {
	c.subMu.Lock()
	delete(c.subscriptions, ch)
	c.subMu.Unlock()
}

// Subscriptions 当前订阅
func (c *Client) Subscriptions() []Channel {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]Channel, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	return out
}

// Send 非阻塞发送, 已关闭或缓冲已满返回 false
func (c *Client) Send(data []byte) bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close 关闭发送队列, WritePump 随后发送关闭帧
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		close(c.send)
		c.closedMu.Unlock()
	})
}

// ReadPump 读取客户端消息
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// WritePump 写入消息并定时 ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	msg, err := ParseClientMessage(data)
	if err != nil {
		c.reply(NewErrorMessage("", http.StatusBadRequest, "invalid message format"))
		return
	}

	switch msg.Type {
	case MsgTypePing:
		c.reply(NewPongMessage())
	case MsgTypeSubscribe:
		if !isValidChannel(msg.Channel) {
			c.reply(NewErrorMessage(msg.ID, http.StatusBadRequest, "invalid channel"))
			return
		}
		c.reply(NewAckMessage(msg.ID, msg.Channel))
		c.hub.Subscribe(c, msg.Channel)
	case MsgTypeUnsubscribe:
		c.hub.Unsubscribe(c, msg.Channel)
		c.reply(NewAckMessage(msg.ID, msg.Channel))
	default:
		c.reply(NewErrorMessage(msg.ID, http.StatusBadRequest, "unknown message type"))
	}
}

func (c *Client) reply(msg *ServerMessage) {
	data, err := msg.ToJSON()
	if err != nil {
		return
	}
	c.Send(data)
}
