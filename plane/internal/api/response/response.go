/*
Package response 统一 API 响应格式

成功：{"success": true, "data": ...}
失败：{"success": false, "error": {"kind", "message", "suggestion"}}，状态码由错误类别决定。
*/
package response

import (
	"errors"
	"net/http"

	"minerfleet/plane/internal/db/dao"
	"minerfleet/plane/internal/pkg/errs"
	"minerfleet/plane/internal/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Kind       errs.Kind `json:"kind"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion"`
}

/* Page 分页列表 */
type Page struct {
	Items      interface{}  `json:"items"`
	Pagination dao.PageInfo `json:"pagination"`
}

func GinSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

func GinCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

/* GinAccepted 后台任务已受理 */
func GinAccepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Data: data})
}

func GinPage(c *gin.Context, items interface{}, info dao.PageInfo) {
	GinSuccess(c, Page{Items: items, Pagination: info})
}

/*
GinError 按错误类别输出
功能：Internal 类错误记录完整错误链，响应只包含消息与建议
*/
func GinError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	msg := errs.Message(err)
	var e *errs.Error
	if !errors.As(err, &e) {
		msg = "internal server error"
	}
	c.JSON(status, Body{
		Success: false,
		Error: &ErrorBody{
			Kind:       errs.KindOf(err),
			Message:    msg,
			Suggestion: errs.Suggestion(err),
		},
	})
}

func GinBadRequest(c *gin.Context, message string) {
	GinError(c, errs.Validation("%s", message))
}

func GinUnauthorized(c *gin.Context, message string) {
	GinError(c, errs.Unauthorized("%s", message))
}

func GinNotFound(c *gin.Context, message string) {
	GinError(c, errs.NotFound("%s", message))
}

func GinInternalError(c *gin.Context, message string, err error) {
	GinError(c, errs.Internal(err, "%s", message))
}

/* GinTooManyRequests 限流 */
func GinTooManyRequests(c *gin.Context, message string) {
	c.JSON(http.StatusTooManyRequests, Body{
		Success: false,
		Error: &ErrorBody{
			Kind:       errs.KindValidation,
			Message:    message,
			Suggestion: "wait before retrying",
		},
	})
}

/* GinForbidden 访问来源受限 */
func GinForbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Body{
		Success: false,
		Error: &ErrorBody{
			Kind:       errs.KindUnauthorized,
			Message:    message,
			Suggestion: "call this endpoint from the host itself",
		},
	})
}
