package model

import (
	"time"
)

// MessageRole 消息角色常量
// 只持久化用户和助手消息，系统提示词只存在于请求中
const (
	MessageRoleUser      = "user"      // 用户消息
	MessageRoleAssistant = "assistant" // AI 助手响应
)

// Message 消息模型
// 对应数据库表 messages
// 每次保存都是整个会话的快照，Position 是消息在快照中的下标
type Message struct {
	// ID 消息唯一标识，由客户端生成，在会话内唯一
	ID string `gorm:"primaryKey;size:64" json:"id" validate:"required,max=64"`

	// ConversationID 所属会话ID，外键关联 conversations.id
	ConversationID string `gorm:"primaryKey;size:36;index:idx_conversation_position,priority:1" json:"conversation_id" validate:"required"`

	// UserID 所属用户
	UserID string `gorm:"size:64;index;not null" json:"user_id" validate:"required,max=64"`

	// Role 消息角色: user / assistant
	Role string `gorm:"size:20;not null" json:"role" validate:"required,oneof=user assistant"`

	// Content 消息内容
	// 用户消息不能为空；被中断的助手消息可能为空
	Content string `gorm:"type:text" json:"content" validate:"required_if=Role user"`

	// Position 消息在会话中的顺序，从 0 开始
	Position int `gorm:"not null;index:idx_conversation_position,priority:2" json:"position" validate:"gte=0"`

	// CreatedAt 写入时间
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}
