package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const headerRequestID = "X-Request-ID"

/* 访问日志中需要脱敏的 query 参数 */
var sensitiveQueryKeys = map[string]bool{
	"token":    true,
	"password": true,
	"secret":   true,
	"api_key":  true,
}

/* quietPaths 探活与抓取路径只在 debug 级别记录 */
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

func sanitizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "***parse_error***"
	}
	for key := range values {
		if sensitiveQueryKeys[strings.ToLower(key)] {
			values.Set(key, "***")
		}
	}
	return values.Encode()
}

/*
Logger 返回访问日志中间件
功能：复用或生成 X-Request-ID 并写回响应头，按状态码选择日志级别
*/
func Logger() gin.HandlerFunc {
	log := zap.L().Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.GetHeader(headerRequestID)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.New().String()
		}
		c.Header(headerRequestID, requestID)
		c.Set(ctxRequestID, requestID)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", sanitizeQuery(c.Request.URL.RawQuery)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if op := GetOperator(c); op != "" {
			fields = append(fields, zap.String("operator", op))
		}

		switch {
		case status >= 500:
			log.Error("HTTP请求", fields...)
		case status >= 400:
			log.Warn("HTTP请求", fields...)
		case quietPaths[path]:
			log.Debug("HTTP请求", fields...)
		default:
			log.Info("HTTP请求", fields...)
		}
	}
}
