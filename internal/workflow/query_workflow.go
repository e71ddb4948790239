package workflow

import (
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/workflow"

	"PNCT-Query/internal/agent"
	"PNCT-Query/internal/container"
	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/query"
	"PNCT-Query/internal/report"
	"PNCT-Query/internal/tools"
)

// Phase 是查询工作流所处的阶段。
type Phase string

const (
	PhaseStarted       Phase = "started"
	PhaseNormalizing   Phase = "normalizing"
	PhaseReasoning     Phase = "reasoning"
	PhaseAwaitingTools Phase = "awaiting_tools"
	PhaseFinalized     Phase = "finalized"
	PhaseFailed        Phase = "failed"
)

const (
	unidentifiedAnswer = "I could not identify a valid container number in your question. " +
		"Container numbers have 4 letters followed by 7 digits, for example CSQU3054383."
	unavailableAnswer = "This question could not be answered because the reasoning service is unavailable. " +
		"No tracking data was evaluated; please try again later."
	busyAnswer = "The reasoning service is experiencing high demand right now and could not answer this question. " +
		"No tracking data was evaluated; please try again shortly."
	timedOutPrefix = "The lookup did not finish within the time limit; partial results follow.\n"
)

// QueryInput 是工作流输入。Options 随输入写入历史，重放时保持一致。
type QueryInput struct {
	Query   query.Query `json:"query"`
	Options Options     `json:"options"`
}

// State 是 state query 返回的快照。
type State struct {
	Phase       Phase  `json:"phase"`
	Round       int    `json:"round"`
	ContainerID string `json:"container_id,omitempty"`
	Pending     int    `json:"pending_calls"`
	Results     int    `json:"tool_results"`
}

// Workflows 持有工作流内使用的工具调用层。
type Workflows struct {
	invoker *tools.Invoker
}

// NewWorkflows 创建工作流定义。
func NewWorkflows(invoker *tools.Invoker) *Workflows {
	return &Workflows{invoker: invoker}
}

// Query 执行一次查询并返回已持久化的最终结果。
func (w *Workflows) Query(ctx workflow.Context, in QueryInput) (query.Result, error) {
	r := &run{
		invoker: w.invoker,
		opts:    in.Options.WithDefaults(),
		query:   in.Query,
		log:     log.With(workflow.GetLogger(ctx), "query_id", in.Query.ID),
		state:   State{Phase: PhaseStarted},
	}
	if err := workflow.SetQueryHandler(ctx, StateQuery, func() (State, error) {
		return r.state, nil
	}); err != nil {
		return query.Result{}, err
	}
	ctx = workflow.WithValue(ctx, queryIDKey, in.Query.ID)

	res := r.execute(ctx)
	return r.finalize(ctx, res)
}

type run struct {
	invoker *tools.Invoker
	opts    Options
	query   query.Query
	log     log.Logger
	state   State
	history []agent.Round
	results []tools.ToolResult
}

func (r *run) execute(ctx workflow.Context) query.Result {
	res := query.Result{QueryID: r.query.ID}

	r.state.Phase = PhaseNormalizing
	id, err := container.Normalize(r.query.Text)
	if err != nil {
		r.log.Info("未识别到有效的集装箱号", "error", err)
		res.Status = query.StatusSucceeded
		res.Answer = unidentifiedAnswer
		res.ErrorCode = string(xerrors.CodeOf(err))
		r.state.Phase = PhaseFinalized
		return res
	}
	res.ContainerID = id.String()
	r.state.ContainerID = res.ContainerID

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()
	deadline := workflow.NewTimer(timerCtx, r.opts.QueryTimeout)

	for round := 1; ; round++ {
		r.state.Round = round
		r.state.Phase = PhaseReasoning
		res.Rounds = round

		action, timedOut, err := r.reason(ctx, deadline, agent.ReasonInput{
			QueryID:     r.query.ID,
			Query:       r.query.Text,
			ContainerID: res.ContainerID,
			Round:       round,
			MaxRounds:   r.opts.MaxRounds,
			History:     r.history,
		})
		switch {
		case timedOut:
			return r.timedOut(res)
		case err != nil:
			r.log.Error("推理服务重试耗尽，查询失败", "round", round, "error", err)
			res.Status = query.StatusFailed
			res.ErrorCode = string(xerrors.CodeReasoningFailure)
			res.Answer = unavailableAnswer
			if errorCode(err) == xerrors.CodeReasoningRateLimited {
				res.ErrorCode = string(xerrors.CodeReasoningRateLimited)
				res.Answer = busyAnswer
			}
			r.state.Phase = PhaseFailed
			return res
		case action.Kind == agent.KindFinalize || len(action.ToolCalls) == 0:
			res.Status = query.StatusSucceeded
			res.Answer = action.Answer
			res.Incomplete = action.Forced
			if res.Answer == "" {
				res.Answer = report.Render(res.ContainerID, r.results)
			}
			r.state.Phase = PhaseFinalized
			return res
		case round >= r.opts.MaxRounds:
			r.log.Warn("达到轮次上限仍请求工具，强制结束", "round", round, "calls", len(action.ToolCalls))
			res.Status = query.StatusSucceeded
			res.Incomplete = true
			res.Answer = report.Render(res.ContainerID, r.results)
			r.state.Phase = PhaseFinalized
			return res
		}

		calls := make([]tools.ToolCall, len(action.ToolCalls))
		for i, call := range action.ToolCalls {
			call.ID = tools.CallID(r.query.ID, round, i)
			calls[i] = call
		}
		r.state.Phase = PhaseAwaitingTools
		results, timedOut := r.awaitTools(ctx, deadline, calls)
		r.results = append(r.results, results...)
		r.history = append(r.history, agent.Round{Thought: action.Thought, Calls: calls, Results: results})
		r.state.Results = len(r.results)
		if timedOut {
			return r.timedOut(res)
		}
	}
}

// reason 执行一次推理活动，与查询截止时间竞争。
func (r *run) reason(ctx workflow.Context, deadline workflow.Future, in agent.ReasonInput) (agent.NextAction, bool, error) {
	if deadline.IsReady() {
		return agent.NextAction{}, true, nil
	}
	actx, cancel := workflow.WithCancel(workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: r.opts.ReasoningTimeout,
		RetryPolicy:         r.opts.ReasoningRetry.policy(),
	}))
	defer cancel()

	var (
		action   agent.NextAction
		err      error
		timedOut bool
	)
	future := workflow.ExecuteActivity(actx, ReasonActivity, in)
	sel := workflow.NewSelector(ctx)
	sel.AddFuture(future, func(f workflow.Future) {
		err = f.Get(ctx, &action)
	})
	sel.AddFuture(deadline, func(workflow.Future) {
		timedOut = true
	})
	sel.Select(ctx)
	return action, timedOut, err
}

// awaitTools 并发启动本轮全部调用，按完成顺序收集结果，结果按调用顺序存放。
// 截止时间先到时取消未完成的调用，它们记为 timeout。
func (r *run) awaitTools(ctx workflow.Context, deadline workflow.Future, calls []tools.ToolCall) ([]tools.ToolResult, bool) {
	callCtx, cancel := workflow.WithCancel(workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: r.opts.ToolTimeout,
		RetryPolicy:         r.opts.ScrapeRetry.policy(),
	}))
	defer cancel()

	results := make([]tools.ToolResult, len(calls))
	resolved := make([]bool, len(calls))
	pending := make([]tools.Pending, len(calls))
	outstanding := 0

	sel := workflow.NewSelector(ctx)
	for i, call := range calls {
		p := r.invoker.Start(callCtx, call)
		pending[i] = p
		if p.Future() == nil {
			results[i] = r.invoker.Resolve(ctx, p)
			resolved[i] = true
			continue
		}
		outstanding++
		sel.AddFuture(p.Future(), func(workflow.Future) {
			results[i] = r.invoker.Resolve(ctx, p)
			resolved[i] = true
			outstanding--
		})
	}

	timedOut := false
	if outstanding > 0 {
		sel.AddFuture(deadline, func(workflow.Future) {
			timedOut = true
		})
	}
	for outstanding > 0 && !timedOut {
		r.state.Pending = outstanding
		sel.Select(ctx)
	}
	if timedOut {
		r.log.Warn("查询截止时间已到，取消未完成的工具调用", "outstanding", outstanding)
		cancel()
		for i, p := range pending {
			if !resolved[i] {
				results[i] = r.invoker.Resolve(ctx, p)
			}
		}
	}
	r.state.Pending = 0
	return results, timedOut
}

func (r *run) timedOut(res query.Result) query.Result {
	r.log.Warn("查询超时，按已有结果作答", "results", len(r.results))
	res.Status = query.StatusSucceeded
	res.TimedOut = true
	res.Answer = timedOutPrefix + report.Render(res.ContainerID, r.results)
	r.state.Phase = PhaseFinalized
	return res
}

// finalize 在断开取消的上下文中调用 Finalize 活动，返回存储中的权威结果。
func (r *run) finalize(ctx workflow.Context, res query.Result) (query.Result, error) {
	res.QueryID = r.query.ID
	res.ToolResults = r.results
	res.CompletedAt = workflow.Now(ctx).UTC()

	dctx, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{
		StartToCloseTimeout: r.opts.FinalizeTimeout,
		RetryPolicy:         r.opts.FinalizeRetry.policy(),
	})

	var stored query.Result
	err := workflow.ExecuteActivity(dctx, FinalizeActivity, query.FinalizeInput{Query: r.query, Result: res}).Get(dctx, &stored)
	if err != nil {
		r.log.Error("写入最终结果失败", "error", err)
		return res, err
	}
	r.log.Info("查询结束", "status", stored.Status, "rounds", stored.Rounds, "flag", stored.Flag())
	return stored, nil
}
