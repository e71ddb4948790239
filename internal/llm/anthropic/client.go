// Package anthropic adapts the Claude Messages API to the llm.Client
// contract using the official Go SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/llm"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

// MessagesClient 是 SDK Messages 服务中用到的部分，便于测试替换。
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Config 描述 Anthropic 客户端配置。
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// Client 通过 Messages API 完成推理。
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// NewClient 使用 API Key 构造默认 SDK 客户端。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, xerrors.New(xerrors.CodeReasoningConfig, "未提供 Anthropic API Key")
	}
	ac := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return New(&ac.Messages, cfg)
}

// New 基于现有 MessagesClient 构造客户端。
func New(msg MessagesClient, cfg Config) (*Client, error) {
	if msg == nil {
		return nil, xerrors.New(xerrors.CodeReasoningConfig, "messages client 未配置")
	}
	c := &Client{msg: msg, model: cfg.Model, maxTokens: cfg.MaxTokens}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	return c, nil
}

// Generate 调用 Messages.New。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	return translate(msg)
}

func (c *Client) buildParams(req llm.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, xerrors.New(xerrors.CodeReasoningConfig, "anthropic: messages are required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     sdk.Model(c.model),
		Messages:  encodeMessages(req.Messages),
	}
	if system := systemText(req); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	for _, spec := range req.Tools {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: spec.InputSchema}, spec.Name)
		if u.OfTool != nil && spec.Description != "" {
			u.OfTool.Description = sdk.String(spec.Description)
		}
		params.Tools = append(params.Tools, u)
	}
	if req.ForceAnswer && len(params.Tools) > 0 {
		none := sdk.NewToolChoiceNoneParam()
		params.ToolChoice = sdk.ToolChoiceUnionParam{OfNone: &none}
	}
	return params, nil
}

func encodeMessages(msgs []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls)+len(m.ToolResults))
		if m.Text != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Text))
		}
		for _, call := range m.ToolCalls {
			var input any = map[string]any{}
			if len(call.Arguments) > 0 {
				var decoded any
				if err := json.Unmarshal(call.Arguments, &decoded); err == nil {
					input = decoded
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(call.ID, input, call.Name))
		}
		for _, res := range m.ToolResults {
			blocks = append(blocks, sdk.NewToolResultBlock(res.CallID, res.Content, res.IsError))
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == llm.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func systemText(req llm.Request) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.System))
	if len(req.Knowledge) > 0 {
		b.WriteString("\n\n## Reference\n")
		for idx, card := range req.Knowledge {
			fmt.Fprintf(&b, "[%d] %s: %s\n", idx+1, strings.TrimSpace(card.Title), strings.TrimSpace(card.Content))
		}
	}
	return strings.TrimSpace(b.String())
}

func translate(msg *sdk.Message) (*llm.Response, error) {
	if msg == nil {
		return nil, xerrors.New(xerrors.CodeReasoningFailure, "anthropic: response message is nil")
	}
	resp := &llm.Response{StopReason: string(msg.StopReason)}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if t := strings.TrimSpace(block.Text); t != "" {
				text = append(text, t)
			}
		case "tool_use":
			args := json.RawMessage(block.Input)
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.Thought = strings.Join(text, "\n")
	} else {
		resp.Text = strings.Join(text, "\n")
	}
	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return nil, xerrors.New(xerrors.CodeReasoningFailure, "anthropic: empty response")
	}
	return resp, nil
}

func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return llm.StatusError("Anthropic", apiErr.StatusCode, apiErr.Error())
	}
	return llm.TransportError("Anthropic", err)
}
