package llm

import (
	"context"

	"golang.org/x/time/rate"

	xerrors "PNCT-Query/internal/errors"
)

type rateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// RateLimited 为 Client 增加进程级的每分钟请求上限。rpm <= 0 时原样返回。
func RateLimited(next Client, rpm int) Client {
	if rpm <= 0 || next == nil {
		return next
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
	}
}

// Generate 在令牌可用后转发请求；等待期间上下文结束则返回超时错误。
func (r *rateLimited) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReasoningTimeout, err, "等待推理服务配额超时")
	}
	return r.next.Generate(ctx, req)
}
