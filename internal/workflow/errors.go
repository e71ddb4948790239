package workflow

import (
	stdErrors "errors"
	"time"

	"go.temporal.io/sdk/temporal"

	xerrors "PNCT-Query/internal/errors"
)

// errorCode 取出活动错误中 ApplicationError 携带的错误码。
func errorCode(err error) xerrors.Code {
	var appErr *temporal.ApplicationError
	if stdErrors.As(err, &appErr) && appErr.Type() != "" {
		return xerrors.Code(appErr.Type())
	}
	return xerrors.CodeOf(err)
}

// applicationError 将统一错误转换为 Temporal 的 ApplicationError：
// 类型为错误码，NonRetryable 取自错误码属性，上游给出的重试间隔不低于 minBackoff。
func applicationError(err error, minBackoff time.Duration) error {
	if err == nil {
		return nil
	}
	var appErr *temporal.ApplicationError
	if stdErrors.As(err, &appErr) {
		return err
	}
	e, ok := xerrors.From(err)
	if !ok {
		return temporal.NewApplicationErrorWithCause(err.Error(), string(xerrors.CodeUnknown), err)
	}
	opts := temporal.ApplicationErrorOptions{
		NonRetryable: !e.Retryable(),
		Cause:        e.Unwrap(),
	}
	if d := e.RetryAfter(); d > 0 && !opts.NonRetryable {
		opts.NextRetryDelay = max(d, minBackoff)
	}
	return temporal.NewApplicationErrorWithOptions(e.Error(), string(e.Code()), opts)
}
