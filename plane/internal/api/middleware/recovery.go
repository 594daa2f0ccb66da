package middleware

import (
	"fmt"
	"runtime/debug"

	"minerfleet/plane/internal/api/response"
	"minerfleet/plane/internal/pkg/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

/*
Recovery 捕获 handler panic
功能：记录堆栈后以统一错误格式返回 500
*/
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				zap.L().Error("请求处理 panic",
					zap.Any("error", rec),
					zap.String("request_id", GetRequestID(c)),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				response.GinError(c, errs.Internal(fmt.Errorf("panic: %v", rec), "internal server error"))
				c.Abort()
			}
		}()

		c.Next()
	}
}
