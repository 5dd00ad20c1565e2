// Package cache 提供 Redis 缓存操作的封装
// 处理会话列表缓存、消息缓存、流锁和跨实例的事件广播
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"career-coach/internal/config"
	"career-coach/internal/model"
	"career-coach/pkg/util"
)

// EventChannelPattern 所有用户事件频道的匹配模式
const EventChannelPattern = "user:*:events"

// releaseScript 只有持有者才能释放锁，避免误删别人重新获得的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// fillScript 版本号未变化时才写入缓存，没有版本号视为 0
var fillScript = redis.NewScript(`
local current = redis.call("GET", KEYS[2]) or "0"
if current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// versionTTL 版本号的保留时间，需要远大于缓存过期时间
const versionTTL = 24 * time.Hour

// RedisCache 封装 Redis 客户端，提供业务相关的缓存操作
type RedisCache struct {
	client   *redis.Client // Redis 客户端实例
	cacheTTL time.Duration // 列表和消息缓存过期时间
	lockTTL  time.Duration // 流锁过期时间
}

// NewRedisCache 创建 RedisCache 实例
// 参数:
//   - cfg: Redis 配置
//
// 返回:
//   - *RedisCache: 缓存实例
//   - error: 连接错误
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, cfg.CacheTTL, cfg.LockTTL), nil
}

// NewRedisCacheWithClient 使用已有的客户端创建 RedisCache
func NewRedisCacheWithClient(client *redis.Client, cacheTTL, lockTTL time.Duration) *RedisCache {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &RedisCache{client: client, cacheTTL: cacheTTL, lockTTL: lockTTL}
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// ==================== 会话列表缓存 ====================
// 读取未命中时会同时拿到版本号，回填时带上这个版本号；
// 写操作提交后调用 Invalidate*，版本号加一并删除缓存，
// 读取期间发生过写操作的旧数据不会被写回

func conversationsKey(userID string) string {
	return fmt.Sprintf("user:%s:conversations", userID)
}

// GetConversations 读取用户的会话列表缓存
// 返回:
//   - []model.Conversation: 会话列表
//   - int64: 当前版本号，未命中时回填需要传回
//   - bool: 是否命中
//   - error: Redis 操作错误
func (c *RedisCache) GetConversations(ctx context.Context, userID string) ([]model.Conversation, int64, bool, error) {
	var convs []model.Conversation
	version, hit, err := c.getVersioned(ctx, conversationsKey(userID), &convs)
	return convs, version, hit, err
}

// FillConversations 回填用户的会话列表缓存
// 版本号与读取时不同说明期间有写操作，不写入
// 返回:
//   - bool: 是否写入
//   - error: Redis 操作错误
func (c *RedisCache) FillConversations(ctx context.Context, userID string, version int64, convs []model.Conversation) (bool, error) {
	return c.fill(ctx, conversationsKey(userID), version, convs)
}

// InvalidateConversations 使用户的会话列表缓存失效
// 创建、删除、改标题之后调用
func (c *RedisCache) InvalidateConversations(ctx context.Context, userID string) error {
	return c.invalidate(ctx, conversationsKey(userID))
}

// ==================== 消息缓存 ====================

func messagesKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

// GetMessages 读取会话消息缓存
func (c *RedisCache) GetMessages(ctx context.Context, conversationID string) ([]model.Message, int64, bool, error) {
	var msgs []model.Message
	version, hit, err := c.getVersioned(ctx, messagesKey(conversationID), &msgs)
	return msgs, version, hit, err
}

// FillMessages 回填会话消息缓存，规则同 FillConversations
func (c *RedisCache) FillMessages(ctx context.Context, conversationID string, version int64, msgs []model.Message) (bool, error) {
	return c.fill(ctx, messagesKey(conversationID), version, msgs)
}

// InvalidateMessages 使会话消息缓存失效
func (c *RedisCache) InvalidateMessages(ctx context.Context, conversationID string) error {
	return c.invalidate(ctx, messagesKey(conversationID))
}

// ==================== 流锁 ====================
// 同一个会话同一时间只允许一个补全流

func streamLockKey(userID, conversationID string) string {
	return fmt.Sprintf("stream:lock:%s:%s", userID, conversationID)
}

// AcquireStreamLock 尝试获取会话的流锁
// 使用 SET NX，锁带过期时间，进程崩溃后也会自动释放
// 返回:
//   - string: 锁令牌，释放时需要传回
//   - bool: 是否获取成功
//   - error: Redis 操作错误
func (c *RedisCache) AcquireStreamLock(ctx context.Context, userID, conversationID string) (string, bool, error) {
	token := util.GenerateUUID()
	ok, err := c.client.SetNX(ctx, streamLockKey(userID, conversationID), token, c.lockTTL).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseStreamLock 释放流锁，令牌不匹配时什么都不做
func (c *RedisCache) ReleaseStreamLock(ctx context.Context, userID, conversationID, token string) error {
	return releaseScript.Run(ctx, c.client, []string{streamLockKey(userID, conversationID)}, token).Err()
}

// ==================== Pub/Sub ====================
// 用于多实例部署时把会话变更事件广播给所有实例

// EventChannel 用户事件频道名
func EventChannel(userID string) string {
	return fmt.Sprintf("user:%s:events", userID)
}

// UserFromEventChannel 从事件频道名中取出用户ID
func UserFromEventChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, "user:") || !strings.HasSuffix(channel, ":events") {
		return "", false
	}
	userID := strings.TrimSuffix(strings.TrimPrefix(channel, "user:"), ":events")
	return userID, userID != ""
}

// PublishUserEvent 发布用户事件
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//   - payload: 已序列化的事件
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) PublishUserEvent(ctx context.Context, userID string, payload []byte) error {
	return c.client.Publish(ctx, EventChannel(userID), payload).Err()
}

// SubscribeUserEvents 订阅所有用户的事件
// 返回 PubSub 对象，调用方负责关闭
func (c *RedisCache) SubscribeUserEvents(ctx context.Context) *redis.PubSub {
	return c.client.PSubscribe(ctx, EventChannelPattern)
}

// ==================== 通用方法 ====================

func versionKey(key string) string {
	return key + ":version"
}

// getVersioned 一次读取缓存内容和版本号
func (c *RedisCache) getVersioned(ctx context.Context, key string, dst interface{}) (int64, bool, error) {
	vals, err := c.client.MGet(ctx, key, versionKey(key)).Result()
	if err != nil {
		return 0, false, err
	}

	var version int64
	if v, ok := vals[1].(string); ok {
		if version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return 0, false, fmt.Errorf("parse cache version %q: %w", v, err)
		}
	}

	data, ok := vals[0].(string)
	if !ok {
		return version, false, nil
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		// 缓存内容损坏，当作未命中并删除
		c.client.Del(ctx, key)
		return version, false, nil
	}
	return version, true, nil
}

func (c *RedisCache) fill(ctx context.Context, key string, version int64, v interface{}) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	n, err := fillScript.Run(ctx, c.client, []string{key, versionKey(key)}, version, data, c.cacheTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *RedisCache) invalidate(ctx context.Context, key string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(key))
		pipe.Expire(ctx, versionKey(key), versionTTL)
		pipe.Del(ctx, key)
		return nil
	})
	return err
}
