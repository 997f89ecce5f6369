package speech

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/BaSui01/meetingflow/types"
)

// classifyTransportError 把 HTTP 传输层错误映射为统一错误码：
// 超时为 UPSTREAM_TIMEOUT，其余连接类错误为 SERVICE_UNAVAILABLE。
func classifyTransportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewError(types.ErrUpstreamTimeout, "upstream request timed out").
			WithCause(err).
			WithRetryable(true).
			WithUpstream(provider)
	}
	return types.NewError(types.ErrServiceUnavailable, "upstream unreachable").
		WithCause(err).
		WithRetryable(true).
		WithUpstream(provider)
}

// statusError 把非 2xx 响应映射为统一错误码。
func statusError(provider string, status int, body []byte) error {
	msg := fmt.Sprintf("status=%d body=%s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrAuthentication, msg).WithHTTPStatus(status).WithUpstream(provider)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true).WithUpstream(provider)
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return types.NewError(types.ErrServiceUnavailable, msg).WithHTTPStatus(status).WithRetryable(true).WithUpstream(provider)
	case status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithHTTPStatus(status).WithRetryable(true).WithUpstream(provider)
	case status >= 500:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithUpstream(provider)
	default:
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status).WithUpstream(provider)
	}
}
