// Package model 定义了与数据库表对应的数据结构
package model

import (
	"time"
)

// Conversation 会话模型
// 对应数据库表 conversations
// 表示用户与职业教练的一次对话，消息按 Position 排序
type Conversation struct {
	// ID 会话唯一标识，UUID
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// UserID 所属用户，所有查询都按用户过滤
	UserID string `gorm:"size:64;index;not null" json:"user_id" validate:"required,max=64"`

	// Title 会话标题
	// 创建时为空，第一次保存消息时由第一条用户消息生成
	Title string `gorm:"size:255" json:"title" validate:"max=255"`

	// CreatedAt 创建时间
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// UpdatedAt 更新时间，每次保存消息时由客户端刷新
	// 列表按这个字段倒序
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`

	// Messages 会话中的所有消息（一对多关系）
	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName 指定表名
func (Conversation) TableName() string {
	return "conversations"
}
