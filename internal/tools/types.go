package tools

import (
	"encoding/json"
	"fmt"
)

// Status 是工具调用的结果状态。
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// ToolCall 是一次工具调用请求，ID 由工作流确定性生成。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolError 描述失败原因，失败与超时的结果必须携带。
type ToolError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ToolResult 是一次工具调用的结果。
type ToolResult struct {
	CallID  string          `json:"call_id"`
	Name    string          `json:"name"`
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ToolError      `json:"error,omitempty"`
}

// OK 判断调用是否成功。
func (r ToolResult) OK() bool { return r.Status == StatusSuccess }

// Text 返回提供给推理服务的文本形式。
func (r ToolResult) Text() string {
	if r.OK() {
		return string(r.Payload)
	}
	if r.Error == nil {
		return fmt.Sprintf(`{"status":%q}`, r.Status)
	}
	raw, _ := json.Marshal(map[string]any{"status": r.Status, "error": r.Error})
	return string(raw)
}

// CallID 生成确定性的调用 ID：<queryID>-r<round>-c<index>。
func CallID(queryID string, round, index int) string {
	return fmt.Sprintf("%s-r%d-c%d", queryID, round, index)
}
