package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"career-coach/pkg/util"
)

const (
	// DefaultIdleTimeout 默认空闲超时：超过这个时间没有收到任何字节即判定失败
	DefaultIdleTimeout = 60 * time.Second

	// readBufferSize 每次从响应体读取的字节数
	readBufferSize = 4 << 10
)

// EventType 会话事件类型
type EventType int

const (
	EventStateChanged EventType = iota // 状态变化
	EventMessageAdded                  // 追加了一条消息
	EventDelta                         // 助手消息收到增量
)

// Event 推送给观察者的会话事件
type Event struct {
	Type    EventType
	State   State
	Message ChatMessage // EventMessageAdded 时有值
	Delta   string      // EventDelta 时有值
	Err     error       // 进入 StateErrored 时有值
}

// Option 会话配置项
type Option func(*Session)

// WithSystemPrompt 每次请求前置的系统提示词
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		s.systemPrompt = prompt
	}
}

// WithIdleTimeout 设置空闲超时，小于等于 0 表示不限制
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.idleTimeout = d
	}
}

// WithObserver 设置事件观察者
// 观察者在会话的锁之外被调用，但不能在回调里调用 Cancel、ClearMessages 或 SetMessages
func WithObserver(fn func(Event)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session 一个流式对话会话
//
// 消息列表只由会话自己修改，调用方通过 Messages 读取快照。
// 同一时间最多只有一条助手消息处于接收中；新的 Send 会取消并等待上一次请求结束。
type Session struct {
	completer    Completer
	systemPrompt string
	idleTimeout  time.Duration
	observer     func(Event)
	logger       *zap.Logger

	// sendMu 串行化请求的切换（开始、取消、清空、替换）
	sendMu sync.Mutex

	mu       sync.Mutex
	state    State
	messages []ChatMessage
	err      error
	pending  strings.Builder    // 正在接收的助手消息内容
	cancel   context.CancelFunc // 当前请求的取消函数
	done     chan struct{}      // 当前请求结束时关闭
}

// New 创建会话
func New(completer Completer, opts ...Option) *Session {
	s := &Session{
		completer:   completer,
		idleTimeout: DefaultIdleTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send 发送一条用户消息并接收流式回复
//
// 去掉首尾空白后为空的输入直接忽略。Send 会阻塞到本次请求结束，
// 期间的状态变化通过观察者推送。返回值:
//   - nil: 正常结束，或输入为空
//   - *TransportError: 会话进入 StateErrored，已收到的内容保留
//   - context.Canceled: 被 Cancel、上层 ctx 或新的 Send 中断，已收到的内容保留
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.sendMu.Lock()
	s.stopExchange()

	exCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	user := ChatMessage{ID: util.GenerateUUID(), Role: RoleUser, Content: text}

	s.mu.Lock()
	s.messages = append(s.messages, user)
	s.state = StateSending
	s.err = nil
	s.pending.Reset()
	s.cancel, s.done = cancel, done
	req := s.requestLocked()
	s.mu.Unlock()
	s.sendMu.Unlock()

	s.logger.Debug("chat exchange started", zap.Int("history", len(req.Messages)))
	s.emit(Event{Type: EventMessageAdded, State: StateSending, Message: user})
	s.emit(Event{Type: EventStateChanged, State: StateSending})

	defer func() {
		cancel()
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	return s.run(exCtx, req)
}

// Cancel 中断当前请求并等待其结束
// 已收到的助手内容保留，会话回到 StateIdle
func (s *Session) Cancel() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.stopExchange()
}

// ClearMessages 清空消息列表，用于开始新的会话
func (s *Session) ClearMessages() {
	s.SetMessages(nil)
}

// SetMessages 整体替换消息列表，用于从存储中恢复会话，不发起网络请求
func (s *Session) SetMessages(list []ChatMessage) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.stopExchange()

	s.mu.Lock()
	s.messages = append([]ChatMessage(nil), list...)
	s.state = StateIdle
	s.err = nil
	s.pending.Reset()
	s.mu.Unlock()

	s.emit(Event{Type: EventStateChanged, State: StateIdle})
}

// Messages 返回消息列表的快照
func (s *Session) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage(nil), s.messages...)
}

// State 返回当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err 返回最近一次失败的错误，没有则为 nil
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// DismissError 清除错误状态，已收到的消息不受影响
func (s *Session) DismissError() {
	s.mu.Lock()
	if s.err == nil && s.state != StateErrored {
		s.mu.Unlock()
		return
	}
	s.err = nil
	if s.state == StateErrored {
		s.state = StateIdle
	}
	state := s.state
	s.mu.Unlock()

	s.emit(Event{Type: EventStateChanged, State: state})
}

// Persistable 返回可以持久化的消息快照
// 流仍在进行时返回 ErrStreamActive，保证不会写入未完成的助手消息
func (s *Session) Persistable() ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Active() {
		return nil, ErrStreamActive
	}
	return append([]ChatMessage(nil), s.messages...), nil
}

// stopExchange 取消当前请求并等待它结束，调用方需持有 sendMu
func (s *Session) stopExchange() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// requestLocked 用完整历史构造请求体，调用方需持有 mu
func (s *Session) requestLocked() *CompletionRequest {
	req := &CompletionRequest{Messages: make([]WireMessage, 0, len(s.messages)+1)}
	if s.systemPrompt != "" {
		req.Messages = append(req.Messages, WireMessage{Role: RoleSystem, Content: s.systemPrompt})
	}
	for _, m := range s.messages {
		req.Messages = append(req.Messages, WireMessage{Role: m.Role, Content: m.Content})
	}
	return req
}

// run 发出请求并逐块读取响应
func (s *Session) run(ctx context.Context, req *CompletionRequest) error {
	streamCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	var idle *time.Timer
	if s.idleTimeout > 0 {
		idle = time.AfterFunc(s.idleTimeout, func() { stop(ErrIdleTimeout) })
		defer idle.Stop()
	}

	body, err := s.completer.Complete(streamCtx, req)
	if err != nil {
		return s.finish(ctx, streamCtx, err)
	}
	defer body.Close()

	parser := NewFrameParser()
	buf := make([]byte, readBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if idle != nil {
				idle.Reset(s.idleTimeout)
			}
			s.beginStreaming()

			res := parser.Feed(buf[:n])
			s.appendDeltas(res.Deltas)
			if res.Err != nil {
				return s.finish(ctx, streamCtx, &TransportError{Err: res.Err})
			}
			if res.Done {
				return s.finish(ctx, streamCtx, nil)
			}
		}
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, io.EOF) {
			res := parser.Flush()
			s.appendDeltas(res.Deltas)
			return s.finish(ctx, streamCtx, res.Err)
		}
		return s.finish(ctx, streamCtx, rerr)
	}
}

// beginStreaming 收到第一批字节时追加空的助手消息
func (s *Session) beginStreaming() {
	s.mu.Lock()
	if s.state != StateSending {
		s.mu.Unlock()
		return
	}
	msg := ChatMessage{ID: util.GenerateUUID(), Role: RoleAssistant}
	s.messages = append(s.messages, msg)
	s.state = StateStreaming
	s.pending.Reset()
	s.mu.Unlock()

	s.emit(Event{Type: EventMessageAdded, State: StateStreaming, Message: msg})
	s.emit(Event{Type: EventStateChanged, State: StateStreaming})
}

// appendDeltas 按顺序把增量追加到末尾的助手消息
func (s *Session) appendDeltas(deltas []string) {
	for _, d := range deltas {
		s.mu.Lock()
		last := len(s.messages) - 1
		if last < 0 || s.messages[last].Role != RoleAssistant || s.state != StateStreaming {
			s.mu.Unlock()
			return
		}
		s.pending.WriteString(d)
		s.messages[last].Content = s.pending.String()
		s.mu.Unlock()

		s.emit(Event{Type: EventDelta, State: StateStreaming, Delta: d})
	}
}

// finish 根据结束原因设置最终状态
func (s *Session) finish(parent, streamCtx context.Context, err error) error {
	if err == nil {
		s.setState(StateIdle, nil)
		s.logger.Debug("chat exchange completed")
		return nil
	}

	if errors.Is(context.Cause(streamCtx), ErrIdleTimeout) {
		err = &TransportError{Err: ErrIdleTimeout}
	} else if errors.Is(parent.Err(), context.Canceled) {
		s.setState(StateIdle, nil)
		s.logger.Debug("chat exchange interrupted")
		return parent.Err()
	}

	var te *TransportError
	if !errors.As(err, &te) {
		err = &TransportError{Err: err}
	}
	s.setState(StateErrored, err)
	s.logger.Warn("chat exchange failed", zap.Error(err))
	return err
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.err = err
	s.mu.Unlock()

	s.emit(Event{Type: EventStateChanged, State: state, Err: err})
}

func (s *Session) emit(ev Event) {
	if s.observer != nil {
		s.observer(ev)
	}
}
