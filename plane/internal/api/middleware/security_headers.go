package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

/*
SecurityHeaders 安全响应头
功能：禁止 MIME 嗅探与 iframe 嵌入；/api 下的响应含设备与任务数据，禁止缓存
*/
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")

		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("Cache-Control", "no-store")
			c.Header("Pragma", "no-cache")
		}

		c.Next()
	}
}
