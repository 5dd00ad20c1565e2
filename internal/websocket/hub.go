package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"career-coach/internal/cache"
	"career-coach/internal/metrics"
	"career-coach/internal/service"
	"career-coach/pkg/util"
)

// Broker 跨实例广播事件，*cache.RedisCache 实现了该接口
type Broker interface {
	PublishUserEvent(ctx context.Context, userID string, payload []byte) error
	SubscribeUserEvents(ctx context.Context) *redis.PubSub
}

// Hub 是 WebSocket 连接的中心管理器
// 负责：
// 1. 管理所有客户端连接（一个用户可以有多个连接）
// 2. 把会话事件推送给对应用户
// 3. 配置了 Broker 时经 Redis 转发，使多实例部署下所有实例都能收到
type Hub struct {
	// 客户端映射：userID -> 连接集合
	clients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	broker   Broker
	relaying atomic.Bool // 已订阅 Redis 频道
	ready    chan struct{}
	done     chan struct{}
	log      *zap.Logger
}

// NewHub 创建 Hub 实例
// broker 为 nil 时事件只在本实例内分发
func NewHub(broker Broker, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broker:     broker,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run 启动 Hub 的主循环，ctx 取消时关闭所有连接
// 应该在单独的 goroutine 中运行
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.broker != nil {
		pubsub := h.broker.SubscribeUserEvents(ctx)
		defer pubsub.Close()
		// 等待订阅确认，保证 Ready 之后发布的事件不会丢
		if _, err := pubsub.Receive(ctx); err != nil {
			h.log.Error("subscribe user events", zap.Error(err))
		} else {
			h.relaying.Store(true)
			go h.relay(ctx, pubsub)
		}
	}
	close(h.ready)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

// Ready 在 Hub 可以收发事件后关闭
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Register 注册客户端，Hub 已停止时直接关闭客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount 返回某个用户当前的连接数
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// NotifyUser 推送会话事件给用户的所有连接
// 实现 service.EventNotifier
func (h *Hub) NotifyUser(ctx context.Context, userID string, event *service.ConversationEvent) {
	msg := NewMessage(event.Type, event)
	msg.MessageID = util.GenerateUUID()
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	if h.relaying.Load() {
		err := h.broker.PublishUserEvent(ctx, userID, data)
		if err == nil {
			return
		}
		// Redis 不可用时至少保证本实例的连接能收到
		h.log.Warn("publish user event", zap.String("user_id", userID), zap.Error(err))
	}
	h.deliver(userID, data)
}

// relay 把 Redis 频道中的事件分发给本实例的连接
// 退出后 NotifyUser 改为只在本实例内分发
func (h *Hub) relay(ctx context.Context, pubsub *redis.PubSub) {
	defer h.relaying.Store(false)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				h.log.Warn("user event subscription closed, delivering locally")
				return
			}
			userID, ok := cache.UserFromEventChannel(msg.Channel)
			if !ok {
				continue
			}
			h.deliver(userID, []byte(msg.Payload))
		}
	}
}

// deliver 发送给本实例上该用户的所有连接
func (h *Hub) deliver(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		client.enqueue(data)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[client.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.userID] = set
	}
	set[client] = struct{}{}
	metrics.EventClients.Inc()
	h.log.Debug("event client registered", zap.String("user_id", client.userID), zap.Int("connections", len(set)))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.clients[client.userID]; ok {
		if _, ok := set[client]; ok {
			delete(set, client)
			metrics.EventClients.Dec()
		}
		if len(set) == 0 {
			delete(h.clients, client.userID)
		}
	}
	client.Close()
	h.log.Debug("event client unregistered", zap.String("user_id", client.userID))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for client := range set {
			client.Close()
			metrics.EventClients.Dec()
		}
		delete(h.clients, userID)
	}
}
