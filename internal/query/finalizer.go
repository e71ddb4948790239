package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/observability/alerting"
	"PNCT-Query/internal/observability/metrics"
	"PNCT-Query/pkg/logger"
)

// FinalizeInput 是 Finalize 的输入。
type FinalizeInput struct {
	Query  Query  `json:"query"`
	Result Result `json:"result"`
}

// Finalizer 负责结果的持久化与发布，可安全重试：
// 结果只在第一次写入时生效，发布成功后打上标记，后续调用返回已存储的结果。
type Finalizer struct {
	store     Store
	publisher Publisher
	alerts    alerting.Dispatcher
	log       *slog.Logger
}

// FinalizerOption 定义可选配置。
type FinalizerOption func(*Finalizer)

// WithPublisher 设置结果发布器。
func WithPublisher(p Publisher) FinalizerOption {
	return func(f *Finalizer) {
		if p != nil {
			f.publisher = p
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) FinalizerOption {
	return func(f *Finalizer) { f.alerts = d }
}

// NewFinalizer 创建 Finalizer。
func NewFinalizer(store Store, opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{
		store:     store,
		publisher: NopPublisher{},
		log:       logger.Named("finalizer"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Finalize 写入结果并发布一次，返回存储中的权威结果。
func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (Result, error) {
	if f.store == nil {
		return Result{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置查询存储")
	}
	result := in.Result
	if result.QueryID == "" {
		result.QueryID = in.Query.ID
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}

	stored, err := f.store.SaveResult(ctx, in.Query, result)
	if err != nil {
		return Result{}, err
	}
	rec, err := f.store.Get(ctx, result.QueryID)
	if err != nil {
		return Result{}, err
	}
	if rec.Result == nil {
		return Result{}, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("查询 %s 的结果未能写入", result.QueryID))
	}
	canonical := *rec.Result

	if stored {
		f.observe(ctx, in.Query, canonical)
	} else {
		f.log.Info("查询结果已存在，跳过写入", "query_id", canonical.QueryID)
	}

	if !rec.Published {
		if err := f.publisher.Publish(ctx, canonical); err != nil {
			f.log.Error("发布查询结果失败", "query_id", canonical.QueryID, "error", err)
			return Result{}, xerrors.Wrap(CodeQueryPublish, err, "发布查询结果失败")
		}
		if err := f.store.MarkPublished(ctx, canonical.QueryID); err != nil {
			return Result{}, err
		}
	}
	return canonical, nil
}

func (f *Finalizer) observe(ctx context.Context, q Query, res Result) {
	metrics.ObserveQuery(string(res.Status), res.Flag())
	logger.Audit().Info("查询完成",
		slog.String("query_id", res.QueryID),
		slog.String("container_id", res.ContainerID),
		slog.String("status", string(res.Status)),
		slog.String("flag", res.Flag()),
		slog.Int("rounds", res.Rounds),
		slog.Int("tool_results", len(res.ToolResults)),
	)
	if res.Status != StatusFailed || f.alerts == nil {
		return
	}
	code := xerrors.Code(res.ErrorCode)
	if code == "" {
		code = xerrors.CodeUnknown
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:        code,
		Message:     fmt.Sprintf("query failed: %s", attrs.Message),
		Severity:    attrs.Severity,
		QueryID:     res.QueryID,
		ContainerID: res.ContainerID,
		Metadata:    map[string]string{"stage": "finalize", "query": truncate(q.Text, 200)},
		OccurredAt:  res.CompletedAt,
	}
	if err := f.alerts.Notify(ctx, event); err != nil {
		f.log.Error("告警通知失败", "query_id", res.QueryID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
