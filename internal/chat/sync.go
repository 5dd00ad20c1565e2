package chat

import (
	"context"
	"fmt"
	"time"

	"career-coach/pkg/util"
)

// maxTitleRunes 会话标题最多保留的字符数
const maxTitleRunes = 50

// ConversationStore 会话持久化接口
// 所有方法都显式传入所属用户
type ConversationStore interface {
	// CreateConversation 创建一个标题为空的新会话
	CreateConversation(ctx context.Context, ownerID string) (*Conversation, error)
	// ListConversations 按 UpdatedAt 倒序列出会话
	ListConversations(ctx context.Context, ownerID string) ([]Conversation, error)
	// DeleteConversation 删除会话及其全部消息
	DeleteConversation(ctx context.Context, ownerID, id string) error
	// ReplaceMessages 用快照整体覆盖会话的消息
	ReplaceMessages(ctx context.Context, conversationID, ownerID string, messages []ChatMessage) error
	// ListMessages 按写入顺序返回会话的消息
	ListMessages(ctx context.Context, ownerID, conversationID string) ([]ChatMessage, error)
	// UpdateConversationTitle 更新标题和更新时间
	UpdateConversationTitle(ctx context.Context, ownerID, id, title string, updatedAt time.Time) error
}

// Snapshotter 提供可持久化的消息快照，*Session 实现了该接口
type Snapshotter interface {
	Persistable() ([]ChatMessage, error)
}

// DeriveTitle 用第一条用户消息生成会话标题
// 超过 50 个字符时截断并追加 "..."
func DeriveTitle(text string) string {
	return util.TruncateRunes(text, maxTitleRunes)
}

// SyncConversation 把会话当前的消息快照写入存储
//
// 流仍在进行时返回 ErrStreamActive，不做任何写入。
// 标题只在 conv.Title 为空时根据第一条用户消息生成，之后保持不变；
// 每次同步都会刷新 UpdatedAt，conv 会被原地更新。
func SyncConversation(ctx context.Context, store ConversationStore, ownerID string, conv *Conversation, sess Snapshotter) error {
	messages, err := sess.Persistable()
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	if err := store.ReplaceMessages(ctx, conv.ID, ownerID, messages); err != nil {
		return fmt.Errorf("replace messages: %w", err)
	}

	title := conv.Title
	if title == "" {
		for _, m := range messages {
			if m.Role == RoleUser {
				title = DeriveTitle(m.Content)
				break
			}
		}
	}

	now := time.Now()
	if err := store.UpdateConversationTitle(ctx, ownerID, conv.ID, title, now); err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	conv.Title = title
	conv.UpdatedAt = now
	return nil
}
