package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"career-coach/internal/config"
	"career-coach/internal/metrics"
)

// 补全服务相关错误
var (
	ErrStreamBusy     = errors.New("a completion stream is already running for this conversation")
	ErrInvalidRequest = errors.New("invalid completion request")
	ErrUpstream       = errors.New("upstream model error")
)

// StreamLocker 会话级别的流锁
type StreamLocker interface {
	AcquireStreamLock(ctx context.Context, userID, conversationID string) (string, bool, error)
	ReleaseStreamLock(ctx context.Context, userID, conversationID, token string) error
}

// ConversationOwnerChecker 检查会话归属，*ConversationService 实现了该接口
type ConversationOwnerChecker interface {
	EnsureOwned(ctx context.Context, userID, conversationID string) error
}

// CompletionMessage 补全请求中的单条消息
type CompletionMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// CompletionRequest 补全请求，每次都携带完整历史
type CompletionRequest struct {
	Messages []CompletionMessage `json:"messages" validate:"required,min=1,dive"`
}

// CompletionService 把客户端的补全请求转发给兼容 OpenAI 的上游模型
type CompletionService struct {
	client       *openai.Client
	model        string
	systemPrompt string
	timeout      time.Duration
	locker       StreamLocker
	owners       ConversationOwnerChecker
	validate     *validator.Validate
	log          *zap.Logger
}

// NewCompletionService 创建 CompletionService 实例
// 参数:
//   - cfg: 上游模型配置
//   - locker: 流锁
//   - owners: 会话归属检查
//   - log: 日志
func NewCompletionService(cfg config.AIConfig, locker StreamLocker, owners ConversationOwnerChecker, log *zap.Logger) *CompletionService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CompletionService{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		timeout:      cfg.Timeout,
		locker:       locker,
		owners:       owners,
		validate:     validator.New(),
		log:          log,
	}
}

// Stream 发起一次流式补全，每收到一段文本就调用 emit
//
// conversationID 不为空时先检查归属并获取该会话的流锁，
// 锁被占用时返回 ErrStreamBusy。emit 返回错误时停止读取上游。
// 参数:
//   - ctx: 上下文，客户端断开时取消
//   - userID: 当前用户
//   - conversationID: 会话ID，可为空
//   - req: 补全请求
//   - emit: 文本增量回调
//
// 返回:
//   - error: ErrInvalidRequest / ErrConversationNotFound / ErrNoPermission / ErrStreamBusy / ErrUpstream
func (s *CompletionService) Stream(ctx context.Context, userID, conversationID string, req *CompletionRequest, emit func(delta string) error) (err error) {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if conversationID != "" {
		if err := s.owners.EnsureOwned(ctx, userID, conversationID); err != nil {
			return err
		}
		token, ok, err := s.locker.AcquireStreamLock(ctx, userID, conversationID)
		if err != nil {
			return fmt.Errorf("acquire stream lock: %w", err)
		}
		if !ok {
			metrics.CompletionStreams.WithLabelValues(metrics.StreamRejected).Inc()
			return ErrStreamBusy
		}
		defer func() {
			// 请求的 ctx 可能已经取消，释放锁用独立的 ctx
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if rerr := s.locker.ReleaseStreamLock(releaseCtx, userID, conversationID, token); rerr != nil {
				s.log.Warn("release stream lock", zap.String("conversation_id", conversationID), zap.Error(rerr))
			}
		}()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	deltas := 0
	defer func() {
		outcome := metrics.StreamCompleted
		switch {
		case err != nil && errors.Is(ctx.Err(), context.Canceled):
			outcome = metrics.StreamCanceled
		case err != nil:
			outcome = metrics.StreamFailed
		}
		metrics.CompletionStreams.WithLabelValues(outcome).Inc()
		metrics.CompletionDuration.Observe(time.Since(start).Seconds())
		s.log.Debug("completion stream finished",
			zap.String("user_id", userID),
			zap.String("conversation_id", conversationID),
			zap.String("outcome", outcome),
			zap.Int("deltas", deltas),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	stream, err := s.client.CreateChatCompletionStream(ctx, s.buildRequest(req))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := emit(delta); err != nil {
			return err
		}
		deltas++
		metrics.CompletionDeltas.Inc()
	}
}

// buildRequest 构造上游请求，客户端没有带系统提示词时补上默认的
func (s *CompletionService) buildRequest(req *CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if s.systemPrompt != "" && req.Messages[0].Role != openai.ChatMessageRoleSystem {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: s.systemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: messages,
		Stream:   true,
	}
}
