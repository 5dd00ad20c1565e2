package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"career-coach/internal/metrics"
	"career-coach/internal/middleware"
	"career-coach/internal/websocket"
	"career-coach/pkg/jwt"
)

// RouterDeps 构建路由所需的依赖
type RouterDeps struct {
	JWT           *jwt.JWTService
	Conversations *ConversationHandler
	Chat          *ChatHandler
	Events        *websocket.Handler
	CORS          middleware.CORSConfig
	Log           *zap.Logger
}

// NewRouter 创建 Gin 引擎并注册所有路由
func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	// 全局中间件
	router.Use(middleware.RecoveryMiddleware(log)) // 恢复 panic
	router.Use(middleware.LoggerMiddleware(log))   // 请求日志
	router.Use(middleware.CORSMiddleware(deps.CORS))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")

	// 流式补全（需要登录）
	chat := v1.Group("/chat")
	chat.Use(middleware.AuthMiddleware(deps.JWT))
	{
		chat.POST("/completions", deps.Chat.Completions)
	}

	// 会话相关（需要登录，且只能访问自己的会话）
	conversations := v1.Group("/users/:user_id/conversations")
	conversations.Use(middleware.AuthMiddleware(deps.JWT), middleware.OwnerMiddleware())
	deps.Conversations.Register(conversations)

	// WebSocket 路由
	if deps.Events != nil {
		deps.Events.RegisterRoutes(router)
	}

	return router
}
