// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"career-coach/internal/metrics"
	"career-coach/internal/model"
	"career-coach/internal/repository"
	"career-coach/pkg/util"
)

// 会话服务相关错误
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoPermission         = errors.New("no permission to access this conversation")
	ErrInvalidMessage       = errors.New("invalid message record")
	ErrInvalidTitle         = errors.New("invalid conversation title")
)

// 会话事件类型
const (
	EventConversationCreated = "conversation:created"
	EventConversationUpdated = "conversation:updated"
	EventConversationDeleted = "conversation:deleted"
	EventMessagesReplaced    = "messages:replaced"
)

// maxTitleLength 标题最大长度（字符）
const maxTitleLength = 255

// ConversationCache 会话服务使用的缓存
// Redis 关闭时使用 cache.NopCache
//
// Get* 未命中时返回的版本号要原样传给 Fill*；
// 写操作提交后调用 Invalidate*，之前读到的版本号随之作废，Fill* 不会写入
type ConversationCache interface {
	GetConversations(ctx context.Context, userID string) ([]model.Conversation, int64, bool, error)
	FillConversations(ctx context.Context, userID string, version int64, convs []model.Conversation) (bool, error)
	InvalidateConversations(ctx context.Context, userID string) error
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, int64, bool, error)
	FillMessages(ctx context.Context, conversationID string, version int64, msgs []model.Message) (bool, error)
	InvalidateMessages(ctx context.Context, conversationID string) error
}

// ConversationEvent 推送给客户端的会话变更事件
type ConversationEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
	MessageCount   int       `json:"message_count,omitempty"`
}

// EventNotifier 会话事件通知接口
type EventNotifier interface {
	NotifyUser(ctx context.Context, userID string, event *ConversationEvent)
}

// ConversationResponse 会话响应
type ConversationResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageDTO 接口中的消息结构
type MessageDTO struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UpdateTitleRequest 更新标题请求
type UpdateTitleRequest struct {
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationService 会话服务
// 负责会话和消息的持久化，所有操作都校验会话归属
type ConversationService struct {
	conversationRepo *repository.ConversationRepository // 会话数据访问层
	messageRepo      *repository.MessageRepository      // 消息数据访问层
	cache            ConversationCache                  // 缓存
	notifier         EventNotifier                      // 事件通知器
	validate         *validator.Validate
	log              *zap.Logger
}

// NewConversationService 创建 ConversationService 实例
func NewConversationService(
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	cache ConversationCache,
	log *zap.Logger,
) *ConversationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConversationService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		cache:            cache,
		validate:         validator.New(),
		log:              log,
	}
}

// SetNotifier 设置通知器
func (s *ConversationService) SetNotifier(n EventNotifier) {
	s.notifier = n
}

// CreateConversation 创建标题为空的新会话
func (s *ConversationService) CreateConversation(ctx context.Context, userID string) (*ConversationResponse, error) {
	now := time.Now()
	conv := &model.Conversation{
		ID:        util.GenerateUUID(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.validate.Struct(conv); err != nil {
		return nil, fmt.Errorf("validate conversation: %w", err)
	}
	if err := s.conversationRepo.Create(ctx, conv); err != nil {
		return nil, err
	}

	s.invalidateConversations(ctx, userID)
	s.notify(ctx, userID, &ConversationEvent{
		Type:           EventConversationCreated,
		ConversationID: conv.ID,
		UpdatedAt:      conv.UpdatedAt,
	})

	resp := toConversationResponse(conv)
	return &resp, nil
}

// ListConversations 按更新时间倒序列出用户的会话
func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]ConversationResponse, error) {
	convs, version, hit, cacheErr := s.cache.GetConversations(ctx, userID)
	if cacheErr != nil {
		s.log.Warn("read conversation cache", zap.String("user_id", userID), zap.Error(cacheErr))
	}
	metrics.CacheLookups.WithLabelValues("conversations", metrics.CacheResult(hit)).Inc()

	if !hit {
		var err error
		convs, err = s.conversationRepo.ListByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		// 读缓存失败时拿到的版本号不可信，不回填
		if cacheErr == nil {
			stored, err := s.cache.FillConversations(ctx, userID, version, convs)
			s.logFill("conversations", userID, stored, err)
		}
	}

	out := make([]ConversationResponse, 0, len(convs))
	for i := range convs {
		out = append(out, toConversationResponse(&convs[i]))
	}
	return out, nil
}

// GetConversation 获取用户的一个会话
func (s *ConversationService) GetConversation(ctx context.Context, userID, conversationID string) (*ConversationResponse, error) {
	conv, err := s.getOwned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	resp := toConversationResponse(conv)
	return &resp, nil
}

// DeleteConversation 删除会话及其所有消息
func (s *ConversationService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := s.getOwned(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.conversationRepo.Delete(ctx, conversationID); err != nil {
		return err
	}

	s.invalidateConversations(ctx, userID)
	s.invalidateMessages(ctx, conversationID)
	s.notify(ctx, userID, &ConversationEvent{
		Type:           EventConversationDeleted,
		ConversationID: conversationID,
		UpdatedAt:      time.Now(),
	})
	return nil
}

// UpdateTitle 更新会话标题和更新时间
// UpdatedAt 为空时使用当前时间
func (s *ConversationService) UpdateTitle(ctx context.Context, userID, conversationID string, req *UpdateTitleRequest) error {
	title := strings.TrimSpace(req.Title)
	if len([]rune(title)) > maxTitleLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidTitle, maxTitleLength)
	}
	updatedAt := req.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if _, err := s.getOwned(ctx, userID, conversationID); err != nil {
		return err
	}
	found, err := s.conversationRepo.UpdateTitle(ctx, conversationID, title, updatedAt)
	if err != nil {
		return err
	}
	if !found {
		return ErrConversationNotFound
	}

	s.invalidateConversations(ctx, userID)
	s.notify(ctx, userID, &ConversationEvent{
		Type:           EventConversationUpdated,
		ConversationID: conversationID,
		Title:          title,
		UpdatedAt:      updatedAt,
	})
	return nil
}

// ListMessages 按写入顺序返回会话的消息
func (s *ConversationService) ListMessages(ctx context.Context, userID, conversationID string) ([]MessageDTO, error) {
	if _, err := s.getOwned(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	msgs, version, hit, cacheErr := s.cache.GetMessages(ctx, conversationID)
	if cacheErr != nil {
		s.log.Warn("read message cache", zap.String("conversation_id", conversationID), zap.Error(cacheErr))
	}
	metrics.CacheLookups.WithLabelValues("messages", metrics.CacheResult(hit)).Inc()

	if !hit {
		var err error
		msgs, err = s.messageRepo.ListByConversationID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if cacheErr == nil {
			stored, err := s.cache.FillMessages(ctx, conversationID, version, msgs)
			s.logFill("messages", conversationID, stored, err)
		}
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{ID: m.ID, Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// ReplaceMessages 用快照整体覆盖会话的消息
// 每条记录在写入前校验，任何一条不合法都不会写入
func (s *ConversationService) ReplaceMessages(ctx context.Context, userID, conversationID string, messages []MessageDTO) error {
	if _, err := s.getOwned(ctx, userID, conversationID); err != nil {
		return err
	}

	records := make([]model.Message, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for i, m := range messages {
		rec := model.Message{
			ID:             m.ID,
			ConversationID: conversationID,
			UserID:         userID,
			Role:           m.Role,
			Content:        m.Content,
			Position:       i,
		}
		if err := s.validate.Struct(&rec); err != nil {
			return fmt.Errorf("%w: message %d: %v", ErrInvalidMessage, i, err)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: duplicate message id %q", ErrInvalidMessage, m.ID)
		}
		seen[m.ID] = struct{}{}
		records = append(records, rec)
	}

	if err := s.messageRepo.ReplaceAll(ctx, conversationID, records); err != nil {
		return err
	}
	metrics.MessageReplaces.Inc()

	s.invalidateMessages(ctx, conversationID)
	s.notify(ctx, userID, &ConversationEvent{
		Type:           EventMessagesReplaced,
		ConversationID: conversationID,
		UpdatedAt:      time.Now(),
		MessageCount:   len(records),
	})
	return nil
}

// EnsureOwned 检查会话存在且属于该用户
func (s *ConversationService) EnsureOwned(ctx context.Context, userID, conversationID string) error {
	_, err := s.getOwned(ctx, userID, conversationID)
	return err
}

func (s *ConversationService) getOwned(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if conv.UserID != userID {
		return nil, ErrNoPermission
	}
	return conv, nil
}

func (s *ConversationService) invalidateConversations(ctx context.Context, userID string) {
	if err := s.cache.InvalidateConversations(ctx, userID); err != nil {
		s.log.Warn("invalidate conversation cache", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *ConversationService) invalidateMessages(ctx context.Context, conversationID string) {
	if err := s.cache.InvalidateMessages(ctx, conversationID); err != nil {
		s.log.Warn("invalidate message cache", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func (s *ConversationService) logFill(kind, key string, stored bool, err error) {
	switch {
	case err != nil:
		s.log.Warn("fill cache", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
	case !stored:
		s.log.Debug("cache changed while reading, skip fill", zap.String("kind", kind), zap.String("key", key))
	}
}

func (s *ConversationService) notify(ctx context.Context, userID string, event *ConversationEvent) {
	if s.notifier != nil {
		s.notifier.NotifyUser(ctx, userID, event)
	}
}

func toConversationResponse(c *model.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
