package cache

import (
	"context"
	"sync"

	"career-coach/internal/model"
	"career-coach/pkg/util"
)

// NopCache 不使用 Redis 时的替代实现
// 缓存永远不命中；流锁只在当前进程内有效
type NopCache struct {
	mu    sync.Mutex
	locks map[string]string
}

// NewNopCache 创建 NopCache
func NewNopCache() *NopCache {
	return &NopCache{locks: make(map[string]string)}
}

func (c *NopCache) GetConversations(context.Context, string) ([]model.Conversation, int64, bool, error) {
	return nil, 0, false, nil
}

func (c *NopCache) FillConversations(context.Context, string, int64, []model.Conversation) (bool, error) {
	return false, nil
}

func (c *NopCache) InvalidateConversations(context.Context, string) error { return nil }

func (c *NopCache) GetMessages(context.Context, string) ([]model.Message, int64, bool, error) {
	return nil, 0, false, nil
}

func (c *NopCache) FillMessages(context.Context, string, int64, []model.Message) (bool, error) {
	return false, nil
}

func (c *NopCache) InvalidateMessages(context.Context, string) error { return nil }

// AcquireStreamLock 进程内的流锁
func (c *NopCache) AcquireStreamLock(_ context.Context, userID, conversationID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := streamLockKey(userID, conversationID)
	if _, held := c.locks[key]; held {
		return "", false, nil
	}
	token := util.GenerateUUID()
	c.locks[key] = token
	return token, true, nil
}

// ReleaseStreamLock 释放进程内的流锁
func (c *NopCache) ReleaseStreamLock(_ context.Context, userID, conversationID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := streamLockKey(userID, conversationID)
	if c.locks[key] == token {
		delete(c.locks, key)
	}
	return nil
}
