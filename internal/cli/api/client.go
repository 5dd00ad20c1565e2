// Package api 封装与服务器的 HTTP API 交互
// Client 实现了 chat.ConversationStore，会话和消息都保存在服务端
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"career-coach/internal/chat"
)

// Client API 客户端
// baseURL: 例如 http://localhost:8080
// token: 访问令牌（Bearer）
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient 创建 API 客户端
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIResponse 通用响应
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError 服务端返回的错误
type APIError struct {
	StatusCode int    // HTTP 状态码
	Code       int    // 业务状态码
	Message    string // 错误信息
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// CompletionURL 流式补全接口地址
// conversationID 不为空时服务端会对该会话加流锁
func (c *Client) CompletionURL(conversationID string) string {
	u := c.baseURL + "/api/v1/chat/completions"
	if conversationID != "" {
		u += "?conversation_id=" + url.QueryEscape(conversationID)
	}
	return u
}

// Health 检查服务器是否可用
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// --- 会话 ---

// CreateConversation 创建标题为空的新会话
func (c *Client) CreateConversation(ctx context.Context, ownerID string) (*chat.Conversation, error) {
	var conv chat.Conversation
	if err := c.do(ctx, http.MethodPost, conversationsPath(ownerID), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations 按更新时间倒序列出会话
func (c *Client) ListConversations(ctx context.Context, ownerID string) ([]chat.Conversation, error) {
	var out struct {
		Conversations []chat.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, conversationsPath(ownerID), nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// GetConversation 获取单个会话
func (c *Client) GetConversation(ctx context.Context, ownerID, id string) (*chat.Conversation, error) {
	var conv chat.Conversation
	if err := c.do(ctx, http.MethodGet, conversationPath(ownerID, id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation 删除会话及其消息
func (c *Client) DeleteConversation(ctx context.Context, ownerID, id string) error {
	return c.do(ctx, http.MethodDelete, conversationPath(ownerID, id), nil, nil)
}

// ReplaceMessages 用快照整体覆盖会话的消息
func (c *Client) ReplaceMessages(ctx context.Context, conversationID, ownerID string, msgs []chat.ChatMessage) error {
	if msgs == nil {
		msgs = []chat.ChatMessage{}
	}
	body := map[string]interface{}{"messages": msgs}
	return c.do(ctx, http.MethodPut, conversationPath(ownerID, conversationID)+"/messages", body, nil)
}

// ListMessages 按顺序返回会话消息
func (c *Client) ListMessages(ctx context.Context, ownerID, conversationID string) ([]chat.ChatMessage, error) {
	var out struct {
		Messages []chat.ChatMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, conversationPath(ownerID, conversationID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// UpdateConversationTitle 更新标题和更新时间
func (c *Client) UpdateConversationTitle(ctx context.Context, ownerID, id, title string, updatedAt time.Time) error {
	body := map[string]interface{}{
		"title":      title,
		"updated_at": updatedAt,
	}
	return c.do(ctx, http.MethodPut, conversationPath(ownerID, id)+"/title", body, nil)
}

func conversationsPath(ownerID string) string {
	return "/api/v1/users/" + url.PathEscape(ownerID) + "/conversations"
}

func conversationPath(ownerID, id string) string {
	return conversationsPath(ownerID) + "/" + url.PathEscape(id)
}

// --- 通用请求封装 ---

// do 发送请求，成功时把 data 解析到 out（out 可为 nil）
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("parse response: %w", err)
	}
	if resp.StatusCode >= 300 || apiResp.Code != 0 {
		return &APIError{StatusCode: resp.StatusCode, Code: apiResp.Code, Message: apiResp.Message}
	}

	if out != nil && len(apiResp.Data) > 0 {
		if err := json.Unmarshal(apiResp.Data, out); err != nil {
			return fmt.Errorf("parse response data: %w", err)
		}
	}
	return nil
}

var _ chat.ConversationStore = (*Client)(nil)
