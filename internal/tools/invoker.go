package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	xerrors "PNCT-Query/internal/errors"
)

// Handler 在工作流中启动一次工具调用，返回的 Future 结果可解码为 json.RawMessage。
type Handler func(ctx workflow.Context, call ToolCall) workflow.Future

// LocalHandler 将确定性的纯函数包装为 Handler，不经过活动。
func LocalHandler(fn func(call ToolCall) (any, error)) Handler {
	return func(ctx workflow.Context, call ToolCall) workflow.Future {
		future, settable := workflow.NewFuture(ctx)
		v, err := fn(call)
		if err != nil {
			settable.SetError(err)
			return future
		}
		raw, err := json.Marshal(v)
		if err != nil {
			settable.SetError(err)
			return future
		}
		settable.SetValue(json.RawMessage(raw))
		return future
	}
}

// Pending 是已启动但尚未解析的调用。
type Pending struct {
	Call      ToolCall
	future    workflow.Future
	immediate *ToolResult
}

// Future 返回底层 Future；参数校验失败的调用没有 Future。
func (p Pending) Future() workflow.Future { return p.future }

// Settled 判断结果是否已经确定。
func (p Pending) Settled() bool {
	return p.immediate != nil || (p.future != nil && p.future.IsReady())
}

// Invoker 将工具名绑定到 Handler。
type Invoker struct {
	registry *Registry
	handlers map[string]Handler
}

// NewInvoker 创建 Invoker。
func NewInvoker(registry *Registry, handlers map[string]Handler) *Invoker {
	copied := make(map[string]Handler, len(handlers))
	for name, h := range handlers {
		copied[name] = h
	}
	return &Invoker{registry: registry, handlers: copied}
}

// Registry 返回工具表。
func (i *Invoker) Registry() *Registry { return i.registry }

// Check 校验工具表与 Handler 一一对应，在 worker 启动时调用。
func (i *Invoker) Check() error {
	var problems []string
	for _, name := range i.registry.Names() {
		if _, ok := i.handlers[name]; !ok {
			problems = append(problems, "missing handler for "+name)
		}
	}
	extra := make([]string, 0)
	for name := range i.handlers {
		if _, ok := i.registry.Lookup(name); !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		problems = append(problems, "handler without definition: "+name)
	}
	if len(problems) > 0 {
		return xerrors.New(xerrors.CodeInitializationFailure, "工具表与处理器不一致: "+strings.Join(problems, "; "))
	}
	return nil
}

// Start 校验参数并启动调用。校验失败不会触达任何活动。
func (i *Invoker) Start(ctx workflow.Context, call ToolCall) Pending {
	if err := i.registry.Validate(call.Name, call.Arguments); err != nil {
		res := failure(call, err)
		return Pending{Call: call, immediate: &res}
	}
	handler, ok := i.handlers[call.Name]
	if !ok {
		res := failure(call, xerrors.New(xerrors.CodeUnknownTool, fmt.Sprintf("工具 %q 没有处理器", call.Name)))
		return Pending{Call: call, immediate: &res}
	}
	return Pending{Call: call, future: handler(ctx, call)}
}

// Resolve 等待调用完成并转换为 ToolResult。
func (i *Invoker) Resolve(ctx workflow.Context, p Pending) ToolResult {
	if p.immediate != nil {
		return *p.immediate
	}
	var payload json.RawMessage
	if err := p.future.Get(ctx, &payload); err != nil {
		return Classify(p.Call, err)
	}
	return ToolResult{CallID: p.Call.ID, Name: p.Call.Name, Status: StatusSuccess, Payload: payload}
}

// Classify 将活动或本地处理器返回的错误转换为 ToolResult。
func Classify(call ToolCall, err error) ToolResult {
	var (
		canceled *temporal.CanceledError
		timeout  *temporal.TimeoutError
		appErr   *temporal.ApplicationError
	)
	switch {
	case errors.As(err, &canceled):
		return ToolResult{CallID: call.ID, Name: call.Name, Status: StatusTimeout, Error: &ToolError{
			Code:    string(xerrors.CodeQueryDeadline),
			Message: "query deadline reached before the call completed",
		}}
	case errors.As(err, &timeout):
		return ToolResult{CallID: call.ID, Name: call.Name, Status: StatusTimeout, Error: &ToolError{
			Code:      string(xerrors.CodeToolTimeout),
			Message:   timeout.Error(),
			Retryable: true,
		}}
	case errors.As(err, &appErr):
		code := appErr.Type()
		if code == "" {
			code = string(xerrors.CodeToolFailure)
		}
		return ToolResult{CallID: call.ID, Name: call.Name, Status: StatusFailure, Error: &ToolError{
			Code:      code,
			Message:   appErr.Message(),
			Retryable: !appErr.NonRetryable(),
		}}
	}
	return failure(call, err)
}

func failure(call ToolCall, err error) ToolResult {
	te := &ToolError{Code: string(xerrors.CodeToolFailure), Message: "tool call failed"}
	if err != nil {
		te.Message = err.Error()
	}
	if e, ok := xerrors.From(err); ok {
		te.Code = string(e.Code())
		te.Retryable = e.Retryable()
	}
	return ToolResult{CallID: call.ID, Name: call.Name, Status: StatusFailure, Error: te}
}
