// Package response 提供统一的 HTTP 响应格式
// 所有 JSON API 都使用相同的响应结构，流式接口除外
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
// code: 业务状态码（0 表示成功）
// message: 提示信息
// data: 响应数据
type Response struct {
	Code    int         `json:"code"`           // 业务状态码
	Message string      `json:"message"`        // 提示信息
	Data    interface{} `json:"data,omitempty"` // 响应数据，可选
}

// 业务状态码定义
const (
	CodeSuccess              = 0    // 成功
	CodeBadRequest           = 1000 // 请求参数错误
	CodeUnauthorized         = 1001 // 未授权
	CodeForbidden            = 1002 // 禁止访问
	CodeNotFound             = 1003 // 资源不存在
	CodeInternalError        = 1004 // 服务器内部错误
	CodeConversationNotFound = 1301 // 会话不存在
	CodeInvalidMessage       = 1302 // 消息记录不合法
	CodeStreamBusy           = 1401 // 会话已有进行中的流
	CodeUpstreamError        = 1402 // 上游模型调用失败
)

// Success 返回成功响应
// 参数:
//   - c: Gin 上下文
//   - data: 响应数据，可以是任意类型
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created 返回 201 响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "created",
		Data:    data,
	})
}

// ErrorWithCode 返回错误响应（带业务状态码）
// 参数:
//   - c: Gin 上下文
//   - httpCode: HTTP 状态码
//   - bizCode: 业务状态码
//   - message: 错误信息
func ErrorWithCode(c *gin.Context, httpCode, bizCode int, message string) {
	c.JSON(httpCode, Response{
		Code:    bizCode,
		Message: message,
	})
}

// BadRequest 返回 400 错误（请求参数错误）
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusBadRequest, CodeBadRequest, message)
}

// Unauthorized 返回 401 错误（未授权）
func Unauthorized(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden 返回 403 错误（禁止访问）
func Forbidden(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusForbidden, CodeForbidden, message)
}

// NotFound 返回 404 错误（资源不存在）
func NotFound(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusNotFound, CodeNotFound, message)
}

// InternalError 返回 500 错误（服务器内部错误）
func InternalError(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusInternalServerError, CodeInternalError, message)
}

// ConversationNotFound 返回会话不存在错误
func ConversationNotFound(c *gin.Context) {
	ErrorWithCode(c, http.StatusNotFound, CodeConversationNotFound, "conversation not found")
}

// InvalidMessage 返回消息记录不合法错误
func InvalidMessage(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusUnprocessableEntity, CodeInvalidMessage, message)
}

// StreamBusy 返回会话已有进行中的流
func StreamBusy(c *gin.Context) {
	ErrorWithCode(c, http.StatusConflict, CodeStreamBusy, "a completion stream is already running for this conversation")
}

// UpstreamError 返回上游模型调用失败
func UpstreamError(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusBadGateway, CodeUpstreamError, message)
}
