package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/knowledge"
	"PNCT-Query/internal/llm"
	"PNCT-Query/internal/llm/rules"
	"PNCT-Query/internal/observability/metrics"
	"PNCT-Query/internal/report"
	"PNCT-Query/internal/tools"
	"PNCT-Query/pkg/logger"
)

// Kind 表示下一步动作的类型。
type Kind string

const (
	KindToolCalls Kind = "tool_calls"
	KindFinalize  Kind = "finalize"
)

// Round 是一轮推理产生的工具调用及其结果。
type Round struct {
	Thought string             `json:"thought,omitempty"`
	Calls   []tools.ToolCall   `json:"calls"`
	Results []tools.ToolResult `json:"results"`
}

// ReasonInput 是一次推理的输入，Round 从 1 开始计数。
type ReasonInput struct {
	QueryID     string  `json:"query_id"`
	Query       string  `json:"query"`
	ContainerID string  `json:"container_id"`
	Round       int     `json:"round"`
	MaxRounds   int     `json:"max_rounds"`
	History     []Round `json:"history,omitempty"`
}

// Results 按顺序返回历史中全部工具结果。
func (in ReasonInput) Results() []tools.ToolResult {
	var out []tools.ToolResult
	for _, r := range in.History {
		out = append(out, r.Results...)
	}
	return out
}

// NextAction 是推理的输出。Forced 表示最后一轮仍请求工具，被强制要求直接作答。
type NextAction struct {
	Kind      Kind             `json:"kind"`
	ToolCalls []tools.ToolCall `json:"tool_calls,omitempty"`
	Answer    string           `json:"answer,omitempty"`
	Thought   string           `json:"thought,omitempty"`
	Forced    bool             `json:"forced,omitempty"`
}

// Orchestrator 协调推理服务、知识库与工具表。
type Orchestrator struct {
	client    llm.Client
	registry  *tools.Registry
	knowledge knowledge.Provider
	provider  string
	timeout   time.Duration
	maxTokens int
	log       *slog.Logger
}

// Option 定义可选的 Orchestrator 配置。
type Option func(*Orchestrator)

// WithKnowledgeProvider 配置知识库，用于在推理前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(o *Orchestrator) {
		o.knowledge = provider
	}
}

// WithLLMTimeout 设置单次调用推理服务的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout < 0 {
			timeout = 0
		}
		o.timeout = timeout
	}
}

// WithProviderName 设置指标中使用的推理服务名称。
func WithProviderName(name string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(name) != "" {
			o.provider = name
		}
	}
}

// WithMaxTokens 设置单次回答的 token 上限。
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// New 创建一个 Orchestrator。
func New(client llm.Client, registry *tools.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		registry: registry,
		provider: "unknown",
		log:      logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Reason 执行一轮推理。最后一轮若仍请求工具，会关闭工具重新请求一次并返回 Forced 的结论；
// 推理服务无法给出文本时用已取得的结果渲染回答。
func (o *Orchestrator) Reason(ctx context.Context, in ReasonInput) (NextAction, error) {
	if o.client == nil || o.registry == nil {
		return NextAction{}, xerrors.New(xerrors.CodeReasoningConfig, "未配置推理服务或工具表")
	}
	if strings.TrimSpace(in.Query) == "" {
		return NextAction{}, xerrors.New(xerrors.CodeInvalidArgument, "查询内容不能为空")
	}

	req := o.buildRequest(in)
	log := o.log.With("query_id", in.QueryID, "round", in.Round)

	resp, err := o.generate(ctx, req)
	if err != nil {
		metrics.ObserveReasoning(o.provider, "error")
		log.Warn("推理失败", "error", err)
		return NextAction{}, err
	}

	if len(resp.ToolCalls) == 0 {
		metrics.ObserveReasoning(o.provider, "answer")
		return o.finalize(in, resp, false), nil
	}

	if in.MaxRounds > 0 && in.Round >= in.MaxRounds {
		metrics.ObserveReasoning(o.provider, "forced")
		log.Info("已达到推理轮数上限，要求直接作答", "requested_calls", len(resp.ToolCalls))
		req.ForceAnswer = true
		forced, err := o.generate(ctx, req)
		if err != nil || forced == nil || len(forced.ToolCalls) > 0 {
			return NextAction{
				Kind:    KindFinalize,
				Answer:  report.Render(in.ContainerID, in.Results()),
				Thought: resp.Thought,
				Forced:  true,
			}, nil
		}
		return o.finalize(in, forced, true), nil
	}

	metrics.ObserveReasoning(o.provider, "tool_calls")
	calls := make([]tools.ToolCall, 0, len(resp.ToolCalls))
	for _, c := range resp.ToolCalls {
		calls = append(calls, tools.ToolCall{Name: c.Name, Arguments: c.Arguments})
	}
	return NextAction{Kind: KindToolCalls, ToolCalls: calls, Thought: resp.Thought}, nil
}

func (o *Orchestrator) finalize(in ReasonInput, resp *llm.Response, forced bool) NextAction {
	answer := strings.TrimSpace(resp.Text)
	if answer == "" {
		answer = report.Render(in.ContainerID, in.Results())
	}
	return NextAction{Kind: KindFinalize, Answer: answer, Thought: resp.Thought, Forced: forced}
}

func (o *Orchestrator) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	resp, err := o.client.Generate(callCtx, req)
	if err != nil {
		if _, coded := xerrors.From(err); coded {
			return nil, err
		}
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeReasoningTimeout, err, "推理服务超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeReasoningFailure, err, "推理服务调用失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeReasoningFailure, "推理服务返回空响应")
	}
	return resp, nil
}

func (o *Orchestrator) buildRequest(in ReasonInput) llm.Request {
	question := strings.TrimSpace(in.Query)
	if in.ContainerID != "" {
		question = fmt.Sprintf("%s\n\n(Normalized container number: %s)", question, in.ContainerID)
	}
	messages := []llm.Message{{Role: llm.RoleUser, Text: question}}
	for _, round := range in.History {
		assistant := llm.Message{Role: llm.RoleAssistant, Text: round.Thought}
		for _, call := range round.Calls {
			assistant.ToolCalls = append(assistant.ToolCalls, llm.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
		}
		results := llm.Message{Role: llm.RoleUser}
		for _, res := range round.Results {
			results.ToolResults = append(results.ToolResults, llm.ToolResult{
				CallID:  res.CallID,
				Name:    res.Name,
				Content: res.Text(),
				IsError: !res.OK(),
			})
		}
		messages = append(messages, assistant, results)
	}
	return llm.Request{
		System:    systemPrompt,
		Messages:  messages,
		Tools:     o.registry.Specs(),
		Knowledge: o.collectKnowledge(in.Query),
		MaxTokens: o.maxTokens,
	}
}

// collectKnowledge 从知识库中检索相关内容以供推理服务参考。
func (o *Orchestrator) collectKnowledge(question string) []llm.KnowledgeCard {
	if o.knowledge == nil {
		return nil
	}
	snippets := o.knowledge.Query(question, string(rules.InferIntent(question)))
	cards := make([]llm.KnowledgeCard, 0, len(snippets))
	for _, snippet := range snippets {
		if strings.TrimSpace(snippet.Title) == "" && strings.TrimSpace(snippet.Content) == "" {
			continue
		}
		cards = append(cards, llm.KnowledgeCard{Title: snippet.Title, Content: snippet.Content})
	}
	return cards
}
