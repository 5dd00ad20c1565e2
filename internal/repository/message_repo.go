package repository

import (
	"context"

	"gorm.io/gorm"

	"career-coach/internal/model"
)

// insertBatchSize 每批插入的消息数量
const insertBatchSize = 100

// MessageRepository 消息数据访问层
// 负责消息相关的所有数据库操作
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建 MessageRepository 实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// ListByConversationID 获取会话的所有消息
// 按 Position 正序排列，与最后一次写入的顺序一致
// 参数:
//   - ctx: 上下文
//   - conversationID: 会话ID
//
// 返回:
//   - []model.Message: 消息列表
//   - error: 数据库错误
func (r *MessageRepository) ListByConversationID(ctx context.Context, conversationID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("position ASC").
		Find(&messages).Error
	return messages, err
}

// ReplaceAll 用新的快照覆盖会话的全部消息
// 先删除再批量插入，两步在同一个事务中，任何一步失败都会回滚，原有消息不受影响。
// 同一份快照写两次，结果与写一次相同。
// 参数:
//   - ctx: 上下文
//   - conversationID: 会话ID
//   - messages: 新的消息快照，Position 由调用方设置
//
// 返回:
//   - error: 数据库错误
func (r *MessageRepository) ReplaceAll(ctx context.Context, conversationID string, messages []model.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}
		return tx.CreateInBatches(messages, insertBatchSize).Error
	})
}

// CountByConversationID 统计会话的消息数量
func (r *MessageRepository) CountByConversationID(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).Where("conversation_id = ?", conversationID).Count(&count).Error
	return count, err
}
