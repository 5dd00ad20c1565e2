// Package handler 提供 HTTP 请求处理器
package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"career-coach/internal/middleware"
	"career-coach/internal/service"
	"career-coach/pkg/response"
)

// ConversationHandler 会话请求处理器
// 路由挂在 /api/v1/users/:user_id/conversations 下，归属由 OwnerMiddleware 保证
type ConversationHandler struct {
	conversationService *service.ConversationService
	log                 *zap.Logger
}

// NewConversationHandler 创建 ConversationHandler 实例
func NewConversationHandler(conversationService *service.ConversationService, log *zap.Logger) *ConversationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConversationHandler{
		conversationService: conversationService,
		log:                 log,
	}
}

// ReplaceMessagesRequest 覆盖消息请求
type ReplaceMessagesRequest struct {
	Messages []service.MessageDTO `json:"messages"`
}

// Register 注册会话相关路由
func (h *ConversationHandler) Register(g *gin.RouterGroup) {
	g.GET("", h.ListConversations)
	g.POST("", h.CreateConversation)
	g.GET("/:id", h.GetConversation)
	g.DELETE("/:id", h.DeleteConversation)
	g.PUT("/:id/title", h.UpdateTitle)
	g.GET("/:id/messages", h.ListMessages)
	g.PUT("/:id/messages", h.ReplaceMessages)
}

// ListConversations 获取会话列表，按更新时间倒序
// @Router /api/v1/users/{user_id}/conversations [get]
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	convs, err := h.conversationService.ListConversations(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.fail(c, err, "failed to list conversations")
		return
	}
	response.Success(c, gin.H{"conversations": convs})
}

// CreateConversation 创建空会话
// @Router /api/v1/users/{user_id}/conversations [post]
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	conv, err := h.conversationService.CreateConversation(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.fail(c, err, "failed to create conversation")
		return
	}
	response.Created(c, conv)
}

// GetConversation 获取单个会话
// @Router /api/v1/users/{user_id}/conversations/{id} [get]
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, err := h.conversationService.GetConversation(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to get conversation")
		return
	}
	response.Success(c, conv)
}

// DeleteConversation 删除会话及其消息
// @Router /api/v1/users/{user_id}/conversations/{id} [delete]
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	if err := h.conversationService.DeleteConversation(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		h.fail(c, err, "failed to delete conversation")
		return
	}
	response.Success(c, nil)
}

// UpdateTitle 更新会话标题
// @Router /api/v1/users/{user_id}/conversations/{id}/title [put]
func (h *ConversationHandler) UpdateTitle(c *gin.Context) {
	var req service.UpdateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if err := h.conversationService.UpdateTitle(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req); err != nil {
		h.fail(c, err, "failed to update title")
		return
	}
	response.Success(c, nil)
}

// ListMessages 获取会话消息
// @Router /api/v1/users/{user_id}/conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	msgs, err := h.conversationService.ListMessages(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to list messages")
		return
	}
	response.Success(c, gin.H{"messages": msgs})
}

// ReplaceMessages 用客户端快照覆盖会话消息
// @Router /api/v1/users/{user_id}/conversations/{id}/messages [put]
func (h *ConversationHandler) ReplaceMessages(c *gin.Context) {
	var req ReplaceMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if err := h.conversationService.ReplaceMessages(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Messages); err != nil {
		h.fail(c, err, "failed to replace messages")
		return
	}
	response.Success(c, gin.H{"count": len(req.Messages)})
}

// fail 把服务层错误映射为响应码
func (h *ConversationHandler) fail(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		response.ConversationNotFound(c)
	case errors.Is(err, service.ErrNoPermission):
		response.Forbidden(c, "no permission to access this conversation")
	case errors.Is(err, service.ErrInvalidMessage), errors.Is(err, service.ErrInvalidTitle):
		response.InvalidMessage(c, err.Error())
	default:
		h.log.Error(fallback, zap.String("path", c.FullPath()), zap.Error(err))
		response.InternalError(c, fallback)
	}
}
