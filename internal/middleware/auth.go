package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"career-coach/pkg/jwt"
	"career-coach/pkg/response"
)

// contextKeyUserID 认证后用户 ID 在 gin 上下文中的键
const contextKeyUserID = "user_id"

// AuthMiddleware 创建 JWT 认证中间件
// 验证请求头中的 Bearer Token，并将用户 ID 存入上下文
// 参数:
//   - jwtService: JWT 服务实例，用于解析和验证 Token
//
// 返回:
//   - gin.HandlerFunc: Gin 中间件函数
func AuthMiddleware(jwtService *jwt.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 格式: "Bearer <token>"
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "malformed authorization header")
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(contextKeyUserID, claims.UserID())
		c.Next()
	}
}

// OwnerMiddleware 检查路径中的 :user_id 是否就是当前登录用户
// 必须放在 AuthMiddleware 之后
func OwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("user_id") != GetUserID(c) {
			response.Forbidden(c, "cannot access another user's conversations")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID 从上下文获取用户 ID 的辅助函数
// 返回:
//   - string: 用户 ID，如果未认证返回空字符串
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}
