// Package chat 实现客户端的流式对话会话
// 负责把用户输入和历史消息发送给补全服务，增量解析流式响应，
// 并把助手回复逐段追加到消息列表中
package chat

import "time"

// Role 消息角色
type Role string

// 消息角色常量
const (
	RoleUser      Role = "user"      // 用户消息
	RoleAssistant Role = "assistant" // AI 助手响应
	RoleSystem    Role = "system"    // 系统提示词，只出现在请求中
)

// ChatMessage 会话中的一条消息
// 助手消息在流式传输期间内容不断增长，流结束后不再变化
type ChatMessage struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation 会话记录
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State 会话状态
type State int

const (
	StateIdle      State = iota // 空闲
	StateSending                // 请求已发出，尚未收到字节
	StateStreaming              // 正在接收增量
	StateErrored                // 出错，保留已收到的内容
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Active 请求是否仍在进行中
func (s State) Active() bool {
	return s == StateSending || s == StateStreaming
}

// WireMessage 请求体中的单条消息
type WireMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest 发往补全服务的请求体
// 每次都携带完整历史，服务端无状态
type CompletionRequest struct {
	Messages []WireMessage `json:"messages"`
}
