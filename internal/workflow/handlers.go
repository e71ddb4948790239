package workflow

import (
	"encoding/json"

	"go.temporal.io/sdk/workflow"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/scrape"
	"PNCT-Query/internal/tools"
)

type contextKey string

const queryIDKey contextKey = "pnct.query_id"

// NewInvoker 为工具表中的每个工具绑定工作流内的处理器：
// query_container 调度抓取活动，list_sources 在工作流内直接返回已配置的数据源。
func NewInvoker(registry *tools.Registry, sources []string) *tools.Invoker {
	list := tools.SourceList{Sources: append([]string(nil), sources...)}
	if len(sources) > 0 {
		list.Default = sources[0]
	}
	return tools.NewInvoker(registry, map[string]tools.Handler{
		tools.QueryContainer: queryContainer,
		tools.ListSources: tools.LocalHandler(func(tools.ToolCall) (any, error) {
			return list, nil
		}),
	})
}

func queryContainer(ctx workflow.Context, call tools.ToolCall) workflow.Future {
	var args tools.QueryContainerArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		future, settable := workflow.NewFuture(ctx)
		settable.SetError(xerrors.Wrap(xerrors.CodeInvalidToolInput, err, "query_container 参数无法解析"))
		return future
	}
	intent := scrape.Intent(args.Intent)
	if intent == "" {
		intent = scrape.IntentAll
	}
	queryID, _ := ctx.Value(queryIDKey).(string)
	return workflow.ExecuteActivity(ctx, ScrapeActivity, scrape.FetchInput{
		QueryID:      queryID,
		ContainerID:  args.ContainerID,
		Source:       args.Source,
		Intent:       intent,
		ForceRefresh: args.ForceRefresh,
		AcceptStale:  args.AcceptStale,
	})
}
