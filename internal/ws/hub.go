package ws

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

// SnapshotFunc 返回频道当前快照, 客户端订阅时推送
type SnapshotFunc func() interface{}

// Hub WebSocket 连接管理中心
type Hub struct {
	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client

	// channel -> clients
	subscriptions map[Channel]map[*Client]bool
	subMu         sync.RWMutex

	snapshots   map[Channel]SnapshotFunc
	snapshotsMu sync.RWMutex

	broadcast chan *broadcastMessage
	done      chan struct{}
	stopOnce  sync.Once
}

type broadcastMessage struct {
	channel Channel
	message *ServerMessage
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		register:      make(chan *Client, 64),
		unregister:    make(chan *Client, 64),
		subscriptions: make(map[Channel]map[*Client]bool),
		snapshots:     make(map[Channel]SnapshotFunc),
		broadcast:     make(chan *broadcastMessage, 256),
		done:          make(chan struct{}),
	}
}

// Run 运行 Hub, 直到 Stop
func (h *Hub) Run() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.clientsMu.Unlock()
			metrics.RecordWSConnection(true)
			logger.Debug("ws client registered", zap.String("id", client.id), zap.Int("total", total))

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				metrics.RecordWSConnection(false)
			}
			h.clientsMu.Unlock()
			h.removeClientFromAllSubscriptions(client)

		case msg := <-h.broadcast:
			h.broadcastToSubscribers(msg)

		case <-ticker.C:
			logger.Debug("ws hub stats", zap.Int("clients", h.ClientCount()))

		case <-h.done:
			h.closeAllClients()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SetSnapshot 设置频道快照来源
func (h *Hub) SetSnapshot(channel Channel, fn SnapshotFunc) {
	h.snapshotsMu.Lock()
	h.snapshots[channel] = fn
	h.snapshotsMu.Unlock()
}

// Subscribe 订阅频道, 有快照来源时立即推送快照
func (h *Hub) Subscribe(client *Client, channel Channel) {
	h.subMu.Lock()
	if h.subscriptions[channel] == nil {
		h.subscriptions[channel] = make(map[*Client]bool)
	}
	h.subscriptions[channel][client] = true
	h.subMu.Unlock()
	client.AddSubscription(channel)

	h.snapshotsMu.RLock()
	fn := h.snapshots[channel]
	h.snapshotsMu.RUnlock()
	if fn != nil {
		if data, err := NewSnapshotMessage(channel, fn()).ToJSON(); err == nil {
			client.Send(data)
		}
	}
}

// Unsubscribe 取消订阅
func (h *Hub) Unsubscribe(client *Client, channel Channel) {
	h.subMu.Lock()
	if clients, ok := h.subscriptions[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, channel)
		}
	}
	h.subMu.Unlock()
	client.RemoveSubscription(channel)
}

// Publish 向频道订阅者广播更新, 队列满时丢弃
func (h *Hub) Publish(channel Channel, data interface{}) {
	select {
	case h.broadcast <- &broadcastMessage{channel: channel, message: NewUpdateMessage(channel, data)}:
	default:
		metrics.WSMessagesDropped.Inc()
		logger.Warn("ws broadcast queue full, dropping message", zap.String("channel", string(channel)))
	}
}

// ClientCount 当前客户端数量
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// SubscriberCount 频道订阅数
func (h *Hub) SubscriberCount(channel Channel) int {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	return len(h.subscriptions[channel])
}

func (h *Hub) broadcastToSubscribers(msg *broadcastMessage) {
	h.subMu.RLock()
	subs := h.subscriptions[msg.channel]
	clients := make([]*Client, 0, len(subs))
	for c := range subs {
		clients = append(clients, c)
	}
	h.subMu.RUnlock()
	if len(clients) == 0 {
		return
	}

	data, err := msg.message.ToJSON()
	if err != nil {
		logger.Error("failed to marshal ws message", zap.Error(err))
		return
	}
	for _, c := range clients {
		if c.Send(data) {
			metrics.WSMessagesTotal.WithLabelValues(string(msg.channel)).Inc()
		}
	}
}

func (h *Hub) removeClientFromAllSubscriptions(client *Client) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for _, ch := range client.Subscriptions() {
		if clients, ok := h.subscriptions[ch]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subscriptions, ch)
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
		metrics.RecordWSConnection(false)
	}
}
