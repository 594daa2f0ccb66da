package middleware

import (
	"net/http"

	"minerfleet/plane/internal/pkg/errs"

	"github.com/gin-gonic/gin"
)

/*
BodyLimit 请求体大小上限
功能：声明长度超限直接返回 413；未声明长度时由 MaxBytesReader 在读取时截断
*/
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"error": gin.H{
					"kind":       errs.KindValidation,
					"message":    "request body too large",
					"suggestion": "send a smaller payload",
				},
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
