package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	xerrors "PNCT-Query/internal/errors"
)

// StatusError 将推理服务的 HTTP 状态码归类为统一错误码。
// 认证与请求格式错误不可重试，限流与服务端错误可重试。opts 附加到限流错误上，通常是重试间隔。
func StatusError(provider string, status int, detail string, opts ...xerrors.Option) error {
	msg := fmt.Sprintf("%s 返回错误状态 %d: %s", provider, status, detail)
	switch {
	case status == http.StatusTooManyRequests:
		opts = append([]xerrors.Option{xerrors.WithMetadata("status", fmt.Sprint(status))}, opts...)
		return xerrors.New(xerrors.CodeReasoningRateLimited, msg, opts...)
	case status >= 500:
		return xerrors.New(xerrors.CodeReasoningFailure, msg, xerrors.WithMetadata("status", fmt.Sprint(status)))
	case status == http.StatusRequestTimeout:
		return xerrors.New(xerrors.CodeReasoningTimeout, msg)
	default:
		return xerrors.New(xerrors.CodeReasoningConfig, msg, xerrors.WithMetadata("status", fmt.Sprint(status)))
	}
}

// TransportError 包装网络层错误，超时单独归类。
func TransportError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeReasoningTimeout, err, fmt.Sprintf("请求 %s 超时", provider))
	}
	return xerrors.Wrap(xerrors.CodeReasoningFailure, err, fmt.Sprintf("请求 %s 失败", provider))
}
