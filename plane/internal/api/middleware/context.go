package middleware

import (
	"github.com/gin-gonic/gin"
)

const (
	ctxOperator  = "operator"
	ctxRequestID = "request_id"
)

/* GetOperator 当前请求的运维账号，未认证时为空 */
func GetOperator(c *gin.Context) string {
	return c.GetString(ctxOperator)
}

/* GetRequestID 由 Logger 中间件注入 */
func GetRequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}
