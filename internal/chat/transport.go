package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody 非 2xx 响应最多读取的字节数
const maxErrorBody = 4 << 10

// Completer 向补全服务发起一次流式请求
// 返回的 body 由调用方关闭；ctx 取消时读取应当返回错误
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error)
}

// CompleterFunc 让普通函数实现 Completer
type CompleterFunc func(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error)

// Complete 调用函数本身
func (f CompleterFunc) Complete(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error) {
	return f(ctx, req)
}

// HTTPCompleter 通过 HTTP POST 调用补全服务
type HTTPCompleter struct {
	Endpoint string       // 补全接口地址
	Token    string       // Bearer Token，可为空
	Client   *http.Client // 为空时使用 http.DefaultClient
}

// NewHTTPCompleter 创建 HTTPCompleter
// 流式响应可能持续很久，不要给 Client 设置整体 Timeout，超时由会话的空闲计时器负责
func NewHTTPCompleter(endpoint, token string) *HTTPCompleter {
	return &HTTPCompleter{
		Endpoint: endpoint,
		Token:    token,
		Client:   &http.Client{},
	}
}

// Complete 发送请求并返回响应体
func (c *HTTPCompleter) Complete(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(excerpt))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	return resp.Body, nil
}
