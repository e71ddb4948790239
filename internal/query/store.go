package query

import (
	"context"

	xerrors "PNCT-Query/internal/errors"
)

// Store 抽象了查询记录的持久化接口。
//
// SaveResult 是插入即终态的写入：同一查询只有第一次写入生效，返回值表示本次是否写入。
// 记录不存在时会一并创建，因此 worker 单独运行时同样可以落库。
type Store interface {
	Create(ctx context.Context, q Query) error
	Get(ctx context.Context, id string) (*Record, error)
	MarkRunning(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, message string) error
	SaveResult(ctx context.Context, q Query, result Result) (bool, error)
	MarkPublished(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
