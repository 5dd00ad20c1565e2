package chat

import (
	"errors"
	"fmt"
)

// 会话相关错误
var (
	// ErrStreamActive 仍有流在进行，不能持久化
	ErrStreamActive = errors.New("chat: stream still active")

	// ErrIdleTimeout 超过空闲时间没有收到任何字节
	ErrIdleTimeout = errors.New("chat: stream idle timeout")
)

// TransportError 请求无法发送或响应无法读取
// 会话对外只暴露这一种错误，不区分超时、5xx 或上游错误帧
type TransportError struct {
	StatusCode int   // HTTP 状态码，网络错误时为 0
	Err        error // 底层错误
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chat: completion request failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("chat: completion request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError 判断错误是否为 TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
