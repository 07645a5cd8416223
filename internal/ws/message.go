// Package ws 通过 WebSocket 推送下注状态、自动开奖结果和实时下注
package ws

import (
	"encoding/json"
	"time"
)

// MessageType 消息类型
type MessageType string

const (
	// 客户端消息类型
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
	MsgTypePing        MessageType = "ping"

	// 服务端消息类型
	MsgTypePong     MessageType = "pong"
	MsgTypeError    MessageType = "error"
	MsgTypeSnapshot MessageType = "snapshot"
	MsgTypeUpdate   MessageType = "update"
	MsgTypeAck      MessageType = "ack"
)

// Channel 订阅频道
type Channel string

const (
	ChannelState   Channel = "state"   // 编排器状态
	ChannelReveals Channel = "reveals" // 自动开奖结果
	ChannelBets    Channel = "bets"    // 实时索引的新下注
	ChannelSession Channel = "session" // 会话状态
)

// AllChannels 连接未指定频道时默认订阅
var AllChannels = []Channel{ChannelState, ChannelReveals, ChannelBets, ChannelSession}

func isValidChannel(ch Channel) bool {
	for _, c := range AllChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// ClientMessage 客户端消息
type ClientMessage struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Channel Channel     `json:"channel,omitempty"`
}

// ServerMessage 服务端消息
type ServerMessage struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"`
	Channel   Channel     `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Code      int         `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// ParseClientMessage 解析客户端消息
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NewPongMessage 创建 Pong 消息
func NewPongMessage() *ServerMessage {
	return &ServerMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}
}

// NewErrorMessage 创建错误消息
func NewErrorMessage(id string, code int, message string) *ServerMessage {
	return &ServerMessage{Type: MsgTypeError, ID: id, Code: code, Message: message}
}

// NewAckMessage 创建确认消息
func NewAckMessage(id string, channel Channel) *ServerMessage {
	return &ServerMessage{Type: MsgTypeAck, ID: id, Channel: channel}
}

// NewSnapshotMessage 订阅时的当前快照
func NewSnapshotMessage(channel Channel, data interface{}) *ServerMessage {
	return &ServerMessage{Type: MsgTypeSnapshot, Channel: channel, Data: data, Timestamp: time.Now().UnixMilli()}
}

// NewUpdateMessage 增量更新
func NewUpdateMessage(channel Channel, data interface{}) *ServerMessage {
	return &ServerMessage{Type: MsgTypeUpdate, Channel: channel, Data: data, Timestamp: time.Now().UnixMilli()}
}

// ToJSON 序列化为 JSON
func (m *ServerMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
