package middleware

import (
	"strings"

	"minerfleet/plane/internal/api/response"
	"minerfleet/plane/internal/service"

	"github.com/gin-gonic/gin"
)

/* TokenValidator 校验 Bearer 令牌 */
type TokenValidator interface {
	ValidateToken(token string) (*service.OperatorClaims, error)
}

/*
JWTAuth 返回 JWT 认证中间件
功能：从 Authorization: Bearer <token> 提取令牌；
WebSocket 握手无法设置请求头，/ws/ 路径额外接受 ?token=
*/
func JWTAuth(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.GinUnauthorized(c, "missing bearer token")
			c.Abort()
			return
		}

		claims, err := v.ValidateToken(token)
		if err != nil {
			response.GinError(c, err)
			c.Abort()
			return
		}

		c.Set(ctxOperator, claims.Username)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if strings.HasPrefix(c.Request.URL.Path, "/ws/") {
		return c.Query("token")
	}
	return ""
}
