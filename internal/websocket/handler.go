package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	pkgJwt "career-coach/pkg/jwt"
	"career-coach/pkg/response"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 认证走 token，CLI 客户端不带 Origin
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler 处理 WebSocket 连接
type Handler struct {
	hub        *Hub
	jwtService *pkgJwt.JWTService
	log        *zap.Logger
}

// NewHandler 创建 WebSocket Handler
func NewHandler(hub *Hub, jwtService *pkgJwt.JWTService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:        hub,
		jwtService: jwtService,
		log:        log,
	}
}

// HandleEvents 处理事件订阅连接
// 路由: GET /ws/events
// 参数: token (query parameter) - JWT token
func (h *Handler) HandleEvents(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Unauthorized(c, "missing token")
		return
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		response.Unauthorized(c, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写了错误响应
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, claims.UserID())
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	h.log.Info("event client connected", zap.String("user_id", claims.UserID()))
}

// RegisterRoutes 注册 WebSocket 路由
// WebSocket 路由不走认证中间件，token 在 query 中验证
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	ws := r.Group("/ws")
	ws.GET("/events", h.HandleEvents)
}
