package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"career-coach/internal/middleware"
	"career-coach/internal/service"
	"career-coach/pkg/response"
)

// streamFrame 下发给客户端的单个 SSE 帧
type streamFrame struct {
	Choices []streamChoice `json:"choices,omitempty"`
	Error   *streamError   `json:"error,omitempty"`
}

type streamChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

type streamError struct {
	Message string `json:"message"`
}

// ChatHandler 流式补全处理器
type ChatHandler struct {
	completionService *service.CompletionService
	log               *zap.Logger
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(completionService *service.CompletionService, log *zap.Logger) *ChatHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatHandler{completionService: completionService, log: log}
}

// Completions 转发补全请求，以 SSE 帧返回增量文本
//
// 第一个增量之前出错时返回普通 JSON 错误；开始推流后出错则下发一个 error 帧。
// @Router /api/v1/chat/completions [post]
func (h *ChatHandler) Completions(c *gin.Context) {
	var req service.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	userID := middleware.GetUserID(c)
	conversationID := c.Query("conversation_id")
	started := false

	emit := func(delta string) error {
		if !started {
			h.writeHeaders(c)
			started = true
		}
		frame := streamFrame{Choices: []streamChoice{{}}}
		frame.Choices[0].Delta.Content = delta
		return h.writeFrame(c, frame)
	}

	err := h.completionService.Stream(c.Request.Context(), userID, conversationID, &req, emit)
	if err == nil {
		if !started {
			h.writeHeaders(c)
		}
		_ = h.writeData(c, []byte("[DONE]"))
		return
	}

	if c.Request.Context().Err() != nil {
		// 客户端已断开
		return
	}
	if started {
		h.log.Warn("completion stream interrupted",
			zap.String("user_id", userID),
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		_ = h.writeFrame(c, streamFrame{Error: &streamError{Message: err.Error()}})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrConversationNotFound):
		response.ConversationNotFound(c)
	case errors.Is(err, service.ErrNoPermission):
		response.Forbidden(c, "no permission to access this conversation")
	case errors.Is(err, service.ErrStreamBusy):
		response.StreamBusy(c)
	case errors.Is(err, service.ErrUpstream):
		h.log.Error("upstream completion failed", zap.String("user_id", userID), zap.Error(err))
		response.UpstreamError(c, "upstream model unavailable")
	default:
		h.log.Error("completion failed", zap.String("user_id", userID), zap.Error(err))
		response.InternalError(c, "completion failed")
	}
}

func (h *ChatHandler) writeHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

func (h *ChatHandler) writeFrame(c *gin.Context, frame streamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return h.writeData(c, data)
}

func (h *ChatHandler) writeData(c *gin.Context, data []byte) error {
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
