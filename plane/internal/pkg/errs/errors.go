/*
Package errs 统一错误分类

所有面向调用方的失败都归入固定的几类（Kind），每个错误携带一条可操作的建议，
API 层据此映射 HTTP 状态码并输出结构化结果。设备通信错误额外携带
host / endpoint / status / retryable，供上层决定是否重试。
*/
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

/* Kind 错误类别 */
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindNotFound            Kind = "not_found"
	KindUnauthorized        Kind = "unauthorized"
	KindDeviceCommunication Kind = "device_communication_error"
	KindAlreadyExists       Kind = "already_exists"
	KindInternal            Kind = "internal_error"
)

var defaultSuggestions = map[Kind]string{
	KindValidation:          "check the request parameters",
	KindNotFound:            "check the id or list registered devices",
	KindUnauthorized:        "re-register and check credentials",
	KindDeviceCommunication: "verify device is powered on and reachable",
	KindAlreadyExists:       "choose a different id or update the existing device",
	KindInternal:            "retry later or check server logs",
}

/*
Error 结构化错误
功能：Kind + Message + Suggestion 为所有错误共有；
Host / Endpoint / Status / Retryable 仅设备通信类错误使用。
*/
type Error struct {
	Kind       Kind
	Message    string
	Suggestion string

	Host      string
	Endpoint  string
	Status    int
	Retryable bool

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Host != "" {
		msg = fmt.Sprintf("%s [host=%s endpoint=%s status=%d]", msg, e.Host, e.Endpoint, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

/* Is 同类错误视为相等，便于 errors.Is(err, errs.ErrNotFound) 判断 */
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

/* 仅用于 errors.Is 比较的哨兵 */
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrDeviceCommunication = &Error{Kind: KindDeviceCommunication}
	ErrAlreadyExists       = &Error{Kind: KindAlreadyExists}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:       kind,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: defaultSuggestions[kind],
	}
}

func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return newError(KindUnauthorized, format, args...)
}

func AlreadyExists(format string, args ...interface{}) *Error {
	return newError(KindAlreadyExists, format, args...)
}

/* Internal 包装基础设施错误（数据库、缓存等） */
func Internal(err error, format string, args ...interface{}) *Error {
	e := newError(KindInternal, format, args...)
	e.Err = err
	return e
}

/*
DeviceCommunication 构造设备通信错误
功能：记录最后一次失败的状态码与信息，retryable 表示上层策略是否值得再试
*/
func DeviceCommunication(host, endpoint string, status int, retryable bool, cause error, format string, args ...interface{}) *Error {
	e := newError(KindDeviceCommunication, format, args...)
	e.Host = host
	e.Endpoint = endpoint
	e.Status = status
	e.Retryable = retryable
	e.Err = cause
	return e
}

/* WithSuggestion 覆盖默认建议 */
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

/* KindOf 提取错误类别，非 *Error 视为 Internal */
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

/* Suggestion 返回错误附带的建议，无建议时返回该类别默认值 */
func Suggestion(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Suggestion != "" {
		return e.Suggestion
	}
	return defaultSuggestions[KindOf(err)]
}

/* IsRetryable 仅设备通信错误可能为 true */
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindDeviceCommunication && e.Retryable
	}
	return false
}

/* Is 判断错误是否属于指定类别 */
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

/* HTTPStatus 类别到 HTTP 状态码的映射 */
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindDeviceCommunication:
		return http.StatusBadGateway
	case KindAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

/* Message 返回面向用户的错误描述（不含包装链） */
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
