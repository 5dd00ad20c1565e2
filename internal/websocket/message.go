// Package websocket 提供 WebSocket 事件推送
// 把会话的创建、更新、删除和消息覆盖事件实时推送给同一用户的所有连接
package websocket

import (
	"time"
)

// MessageType 消息类型常量
const (
	// 服务端 → 客户端：会话变更，类型与 service 中的事件类型一致
	TypeConversationCreated = "conversation:created"
	TypeConversationUpdated = "conversation:updated"
	TypeConversationDeleted = "conversation:deleted"
	TypeMessagesReplaced    = "messages:replaced"

	// 通用
	TypePing  = "ping"  // 客户端心跳
	TypePong  = "pong"  // 心跳响应
	TypeError = "error" // 错误消息
)

// Message WebSocket 消息结构
// 所有消息都使用这个统一的结构
type Message struct {
	Type      string      `json:"type"`                 // 消息类型
	Payload   interface{} `json:"payload,omitempty"`    // 消息内容
	Timestamp int64       `json:"timestamp"`            // 时间戳（毫秒）
	MessageID string      `json:"message_id,omitempty"` // 消息ID，用于追踪
}

// NewMessage 创建新消息
func NewMessage(msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ErrorPayload 错误消息内容
type ErrorPayload struct {
	Message string `json:"message"`
}
