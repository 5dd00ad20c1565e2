// Package websocket 订阅服务器推送的会话变更事件
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 消息类型常量
const (
	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"

	TypeConversationCreated = "conversation:created"
	TypeConversationUpdated = "conversation:updated"
	TypeConversationDeleted = "conversation:deleted"
	TypeMessagesReplaced    = "messages:replaced"
)

// heartbeatInterval 心跳间隔
const heartbeatInterval = 30 * time.Second

// Message WebSocket 消息结构
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ConversationEvent 会话变更事件内容
type ConversationEvent struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
	MessageCount   int       `json:"message_count,omitempty"`
}

// Event 解析事件内容，非会话事件返回错误
func (m *Message) Event() (*ConversationEvent, error) {
	if !strings.HasPrefix(m.Type, "conversation:") && m.Type != TypeMessagesReplaced {
		return nil, fmt.Errorf("not a conversation event: %s", m.Type)
	}
	var ev ConversationEvent
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		return nil, fmt.Errorf("parse event payload: %w", err)
	}
	return &ev, nil
}

// Client WebSocket 客户端
type Client struct {
	url       string
	conn      *websocket.Conn
	sendChan  chan []byte
	done      chan struct{}
	mu        sync.Mutex
	isRunning bool
	onMessage func(*Message) // 消息回调
}

// NewClient 创建 WebSocket 客户端
// serverURL: HTTP 服务器地址（如 http://localhost:8080）
// token: 访问令牌
func NewClient(serverURL, token string) *Client {
	// 将 HTTP URL 转换为 WebSocket URL
	wsURL := strings.Replace(serverURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = wsURL + "/ws/events?token=" + url.QueryEscape(token)

	return &Client{
		url:      wsURL,
		sendChan: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

// OnMessage 设置消息回调，需要在 Connect 之前调用
func (c *Client) OnMessage(handler func(*Message)) {
	c.onMessage = handler
}

// Connect 连接到服务器
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return errors.New("client already running")
	}
	c.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.isRunning = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()
	return nil
}

// Done 连接关闭后关闭
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return
	}
	c.isRunning = false
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}

// Ping 发送一次心跳
func (c *Client) Ping() error {
	return c.send(&Message{Type: TypePing})
}

func (c *Client) send(msg *Message) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.sendChan <- data:
		return nil
	case <-c.Done():
		return errors.New("connection closed")
	default:
		return errors.New("send buffer full")
	}
}

// readPump 读取消息
func (c *Client) readPump() {
	defer c.Disconnect()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == TypePong {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(&msg)
		}
	}
}

// writePump 写入消息并定时发送心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.Disconnect()
	}()

	done := c.Done()
	for {
		select {
		case <-done:
			return

		case data := <-c.sendChan:
			if err := c.write(data); err != nil {
				return
			}

		case <-ticker.C:
			data, _ := json.Marshal(&Message{Type: TypePing, Timestamp: time.Now().UnixMilli()})
			if err := c.write(data); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isRunning {
		return errors.New("connection closed")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// IsRunning 检查是否正在运行
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunning
}
