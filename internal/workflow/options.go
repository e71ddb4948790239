package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
)

// 工作流与活动的名称，注册与调用都使用这些常量。
const (
	WorkflowName     = "QueryWorkflow"
	ReasonActivity   = "Reason"
	ScrapeActivity   = "Scrape"
	FinalizeActivity = "Finalize"

	// StateQuery 是查询工作流当前状态的 query 名称。
	StateQuery = "state"
)

// RetryPolicy 是可序列化的重试策略，随工作流输入一起记录在历史中。
type RetryPolicy struct {
	InitialInterval    time.Duration `json:"initial_interval"`
	BackoffCoefficient float64       `json:"backoff_coefficient"`
	MaximumInterval    time.Duration `json:"maximum_interval"`
	MaximumAttempts    int32         `json:"maximum_attempts"`
}

func (p RetryPolicy) policy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    p.InitialInterval,
		BackoffCoefficient: p.BackoffCoefficient,
		MaximumInterval:    p.MaximumInterval,
		MaximumAttempts:    p.MaximumAttempts,
	}
}

func (p RetryPolicy) withDefaults(attempts int32) RetryPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.BackoffCoefficient < 1 {
		p.BackoffCoefficient = 2
	}
	if p.MaximumInterval <= 0 {
		p.MaximumInterval = 10 * time.Second
	}
	if p.MaximumInterval < p.InitialInterval {
		p.MaximumInterval = p.InitialInterval
	}
	if p.MaximumAttempts <= 0 {
		p.MaximumAttempts = attempts
	}
	return p
}

// Options 控制单次查询的轮次上限、超时与重试。
type Options struct {
	MaxRounds        int           `json:"max_rounds"`
	QueryTimeout     time.Duration `json:"query_timeout"`
	ReasoningTimeout time.Duration `json:"reasoning_timeout"`
	ToolTimeout      time.Duration `json:"tool_timeout"`
	FinalizeTimeout  time.Duration `json:"finalize_timeout"`
	ScrapeRetry      RetryPolicy   `json:"scrape_retry"`
	ReasoningRetry   RetryPolicy   `json:"reasoning_retry"`
	FinalizeRetry    RetryPolicy   `json:"finalize_retry"`
}

// DefaultOptions 返回默认配置。
func DefaultOptions() Options {
	return Options{}.WithDefaults()
}

// WithDefaults 为未设置的字段填充默认值。
func (o Options) WithDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = 5
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 3 * time.Minute
	}
	if o.ReasoningTimeout <= 0 {
		o.ReasoningTimeout = 60 * time.Second
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = 30 * time.Second
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = 30 * time.Second
	}
	o.ScrapeRetry = o.ScrapeRetry.withDefaults(3)
	o.ReasoningRetry = o.ReasoningRetry.withDefaults(3)
	o.FinalizeRetry = o.FinalizeRetry.withDefaults(10)
	return o
}
