package workflow

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"

	"PNCT-Query/internal/agent"
	"PNCT-Query/internal/observability/metrics"
	"PNCT-Query/internal/query"
	"PNCT-Query/internal/scrape"
	"PNCT-Query/internal/tools"
)

// Reasoner 决定下一步动作，由 agent.Orchestrator 实现。
type Reasoner interface {
	Reason(ctx context.Context, in agent.ReasonInput) (agent.NextAction, error)
}

// Fetcher 抓取单个集装箱在单个数据源下的记录，由 scrape.Scraper 实现。
type Fetcher interface {
	Fetch(ctx context.Context, in scrape.FetchInput) (scrape.Record, error)
}

// Finalizer 写入并发布最终结果，由 query.Finalizer 实现。
type Finalizer interface {
	Finalize(ctx context.Context, in query.FinalizeInput) (query.Result, error)
}

// Activities 汇集工作流使用的全部活动。
type Activities struct {
	reasoner   Reasoner
	fetcher    Fetcher
	finalizer  Finalizer
	minBackoff time.Duration
}

// ActivityOption 定义可选配置。
type ActivityOption func(*Activities)

// WithMinRateLimitBackoff 设置限流重试的最小间隔。
func WithMinRateLimitBackoff(d time.Duration) ActivityOption {
	return func(a *Activities) {
		if d > 0 {
			a.minBackoff = d
		}
	}
}

// NewActivities 创建活动集合。
func NewActivities(reasoner Reasoner, fetcher Fetcher, finalizer Finalizer, opts ...ActivityOption) *Activities {
	a := &Activities{
		reasoner:   reasoner,
		fetcher:    fetcher,
		finalizer:  finalizer,
		minBackoff: 2 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Reason 调用推理服务，错误按错误码决定是否重试。
func (a *Activities) Reason(ctx context.Context, in agent.ReasonInput) (agent.NextAction, error) {
	action, err := a.reasoner.Reason(ctx, in)
	if err != nil {
		activity.GetLogger(ctx).Warn("推理失败", "query_id", in.QueryID, "round", in.Round, "error", err)
		return agent.NextAction{}, applicationError(err, a.minBackoff)
	}
	return action, nil
}

// Scrape 是 query_container 工具背后的抓取活动。
func (a *Activities) Scrape(ctx context.Context, in scrape.FetchInput) (scrape.Record, error) {
	info := activity.GetInfo(ctx)
	rec, err := a.fetcher.Fetch(ctx, in)
	if err != nil {
		metrics.ObserveToolCall(tools.QueryContainer, "failure")
		activity.GetLogger(ctx).Warn("抓取失败",
			"query_id", in.QueryID,
			"container_id", in.ContainerID,
			"source", in.Source,
			"attempt", info.Attempt,
			"error", err,
		)
		return scrape.Record{}, applicationError(err, a.minBackoff)
	}
	metrics.ObserveToolCall(tools.QueryContainer, "success")
	return rec, nil
}

// Finalize 持久化最终结果并发布。
func (a *Activities) Finalize(ctx context.Context, in query.FinalizeInput) (query.Result, error) {
	res, err := a.finalizer.Finalize(ctx, in)
	if err != nil {
		activity.GetLogger(ctx).Error("写入查询结果失败", "query_id", in.Query.ID, "error", err)
		return query.Result{}, applicationError(err, a.minBackoff)
	}
	return res, nil
}

// Registrar 是 worker 与测试环境共有的注册接口。
type Registrar interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register 以固定名称注册工作流与活动。
func Register(r Registrar, wf *Workflows, acts *Activities) {
	r.RegisterWorkflowWithOptions(wf.Query, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.Reason, activity.RegisterOptions{Name: ReasonActivity})
	r.RegisterActivityWithOptions(acts.Scrape, activity.RegisterOptions{Name: ScrapeActivity})
	r.RegisterActivityWithOptions(acts.Finalize, activity.RegisterOptions{Name: FinalizeActivity})
}
