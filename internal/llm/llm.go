package llm

import (
	"context"
	"encoding/json"
)

// Role 表示对话消息的角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolSpec 描述推理服务可以请求调用的工具。
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall 是推理服务请求的一次工具调用。
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult 是回传给推理服务的工具结果。
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Message 是一条对话消息。助手消息可携带 ToolCalls，用户消息可携带 ToolResults。
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// KnowledgeCard 表示提供给大模型的知识切片，帮助生成更加准确的回复。
type KnowledgeCard struct {
	Title   string
	Content string
}

// Request 描述一次推理请求。ForceAnswer 为 true 时不允许再请求工具。
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Knowledge   []KnowledgeCard
	ForceAnswer bool
	MaxTokens   int
}

// Response 是推理服务的输出：要么包含工具调用，要么包含最终回答文本。
type Response struct {
	Thought    string
	Text       string
	ToolCalls  []ToolCall
	StopReason string
}

// Client 定义了调用推理服务的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// LastUserText 返回最近一条带文本的用户消息。
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser && r.Messages[i].Text != "" {
			return r.Messages[i].Text
		}
	}
	return ""
}

// ToolResults 按出现顺序返回对话中全部工具结果。
func (r Request) ToolResults() []ToolResult {
	var out []ToolResult
	for _, m := range r.Messages {
		out = append(out, m.ToolResults...)
	}
	return out
}

// ToolCalls 按出现顺序返回对话中全部工具调用。
func (r Request) ToolCalls() []ToolCall {
	var out []ToolCall
	for _, m := range r.Messages {
		out = append(out, m.ToolCalls...)
	}
	return out
}
