package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorCode 服务内统一的错误码，同时决定 HTTP 状态与日志级别
type ErrorCode string

// 请求与传输层
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrAuthentication     ErrorCode = "AUTHENTICATION"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// 会议域
const (
	ErrProfileNotFound   ErrorCode = "PROFILE_NOT_FOUND"
	ErrSessionClosed     ErrorCode = "SESSION_CLOSED"
	ErrNotConfigured     ErrorCode = "NOT_CONFIGURED"
	ErrTranscriberFailed ErrorCode = "TRANSCRIBER_FAILED"
)

// Error 结构化错误。Upstream 标记出错的外部协作方（recognizer、tts、intent 等）。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Upstream   string    `json:"upstream,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	msg := "[" + string(e.Code) + "] " + e.Message
	if e.Upstream != "" {
		msg += " (" + e.Upstream + ")"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is 按错误码匹配，使哨兵错误可用于 errors.Is。
// 哨兵的 Message 非空时还要求消息一致。
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Cause == nil && (t.Message == "" || t.Message == e.Message)
}

// NewError 创建结构化错误
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// 以下 With* 方法原地修改并返回自身，便于链式构造

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func (e *Error) WithUpstream(name string) *Error {
	e.Upstream = name
	return e
}

// asError 取出错误链上的第一个 *Error
func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsRetryable 报告错误链上的 *Error 是否标记为可重试
func IsRetryable(err error) bool {
	e, ok := asError(err)
	return ok && e.Retryable
}

// GetErrorCode 返回错误链上的错误码，不是 *Error 时返回空串
func GetErrorCode(err error) ErrorCode {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return ""
}

// 跨包共享的哨兵错误，按错误码匹配
var (
	ErrProfileMissing = NewError(ErrProfileNotFound, "")
	ErrClosed         = NewError(ErrSessionClosed, "")
	ErrUnconfigured   = NewError(ErrNotConfigured, "")
)

// =============================================================================
// 错误分类
// =============================================================================

// IsTransient 判断错误是否属于超时或连接类错误。
// 这类错误在识别链路上是预期内的，调用方可以静默丢弃；其它错误应当记录。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	switch GetErrorCode(err) {
	case ErrUpstreamTimeout, ErrTimeout, ErrServiceUnavailable:
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
