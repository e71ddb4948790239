// Package rules provides an offline reasoning service. It follows a fixed
// plan: look the container up, fall back to another source when the lookup
// fails transiently, then answer from whatever was retrieved.
package rules

import (
	"context"
	"encoding/json"
	"strings"

	"PNCT-Query/internal/container"
	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/llm"
	"PNCT-Query/internal/report"
	"PNCT-Query/internal/scrape"
	"PNCT-Query/internal/tools"
)

// Provider 是规则规划器在指标与日志中使用的名称。
const Provider = "rules"

// Planner 根据关键词推断意图，不依赖外部服务。
type Planner struct {
	sources []string
}

// New 创建规划器。sources 为可尝试的数据源，按优先级排列。
func New(sources []string) *Planner {
	return &Planner{sources: append([]string(nil), sources...)}
}

// Generate 实现 llm.Client。
func (p *Planner) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, llm.TransportError(Provider, err)
	}
	calls := queryCalls(req.ToolCalls())
	results := decodeResults(req.ToolResults())

	if len(calls) == 0 {
		if req.ForceAnswer {
			return &llm.Response{Text: report.Render("", results), StopReason: "forced"}, nil
		}
		id, err := container.Normalize(req.LastUserText())
		if err != nil {
			return &llm.Response{Text: "Please provide a valid 11 character container number, for example CSQU3054383."}, nil
		}
		args := tools.QueryContainerArgs{ContainerID: id.String(), Intent: string(InferIntent(req.LastUserText()))}
		return toolCall("Look up the container at the default source.", args)
	}

	first := calls[0]
	if !req.ForceAnswer && !anySucceeded(results) && allRetryable(results) {
		if next := p.nextSource(calls); next != "" {
			args := first
			args.Source = next
			args.AcceptStale = true
			return toolCall("The previous lookup failed transiently; trying "+next+".", args)
		}
	}
	return &llm.Response{
		Thought:    "Answering from the retrieved tracking records.",
		Text:       report.Render(first.ContainerID, results),
		StopReason: "end_turn",
	}, nil
}

// InferIntent 根据问题中的关键词推断意图，未命中时返回 all。
func InferIntent(text string) scrape.Intent {
	lower := strings.ToLower(text)
	table := []struct {
		intent   scrape.Intent
		keywords []string
	}{
		{scrape.IntentLastFreeDay, []string{"last free", "free day", "lfd", "demurrage"}},
		{scrape.IntentHolds, []string{"hold", "customs", "released"}},
		{scrape.IntentLocation, []string{"where", "location", "located", "yard", "position"}},
		{scrape.IntentAvailability, []string{"available", "availability", "pickup", "pick up", "ready"}},
		{scrape.IntentStatus, []string{"status", "state"}},
	}
	for _, row := range table {
		for _, kw := range row.keywords {
			if strings.Contains(lower, kw) {
				return row.intent
			}
		}
	}
	return scrape.IntentAll
}

func (p *Planner) nextSource(calls []tools.QueryContainerArgs) string {
	tried := make(map[string]bool, len(calls))
	for _, c := range calls {
		name := strings.ToLower(c.Source)
		if name == "" && len(p.sources) > 0 {
			name = strings.ToLower(p.sources[0])
		}
		tried[name] = true
	}
	for _, name := range p.sources {
		if !tried[strings.ToLower(name)] {
			return name
		}
	}
	return ""
}

func toolCall(thought string, args tools.QueryContainerArgs) (*llm.Response, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return &llm.Response{
		Thought:    thought,
		ToolCalls:  []llm.ToolCall{{Name: tools.QueryContainer, Arguments: raw}},
		StopReason: "tool_use",
	}, nil
}

func queryCalls(calls []llm.ToolCall) []tools.QueryContainerArgs {
	var out []tools.QueryContainerArgs
	for _, c := range calls {
		if c.Name != tools.QueryContainer {
			continue
		}
		var args tools.QueryContainerArgs
		if err := json.Unmarshal(c.Arguments, &args); err != nil || args.ContainerID == "" {
			continue
		}
		out = append(out, args)
	}
	return out
}

// decodeResults 将回传给推理服务的文本还原为 ToolResult。
func decodeResults(results []llm.ToolResult) []tools.ToolResult {
	out := make([]tools.ToolResult, 0, len(results))
	for _, r := range results {
		res := tools.ToolResult{CallID: r.CallID, Name: r.Name, Status: tools.StatusSuccess}
		if !r.IsError {
			res.Payload = json.RawMessage(r.Content)
			out = append(out, res)
			continue
		}
		var failed struct {
			Status tools.Status     `json:"status"`
			Error  *tools.ToolError `json:"error"`
		}
		res.Status = tools.StatusFailure
		if err := json.Unmarshal([]byte(r.Content), &failed); err == nil {
			if failed.Status != "" {
				res.Status = failed.Status
			}
			res.Error = failed.Error
		}
		if res.Error == nil {
			res.Error = &tools.ToolError{Code: string(xerrors.CodeToolFailure), Message: r.Content}
		}
		out = append(out, res)
	}
	return out
}

func anySucceeded(results []tools.ToolResult) bool {
	for _, r := range results {
		if r.OK() && r.Name == tools.QueryContainer {
			return true
		}
	}
	return false
}

func allRetryable(results []tools.ToolResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.OK() || r.Error == nil || !r.Error.Retryable {
			return false
		}
	}
	return true
}

var _ llm.Client = (*Planner)(nil)
