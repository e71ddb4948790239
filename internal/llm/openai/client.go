package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用兼容 OpenAI 的 Chat Completions 接口，支持函数调用。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeReasoningConfig, "未提供 OpenAI API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type function struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type tool struct {
	Type     string   `json:"type"`
	Function function `json:"function"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Tools       []tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate 调用 Chat Completions 接口。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReasoningConfig, err, "序列化 OpenAI 请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReasoningConfig, err, "构建 OpenAI 请求失败")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError("OpenAI", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var opts []xerrors.Option
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			opts = append(opts, xerrors.WithRetryAfter(time.Duration(secs)*time.Second))
		}
		return nil, llm.StatusError("OpenAI", resp.StatusCode, strings.TrimSpace(string(body)), opts...)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReasoningFailure, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeReasoningFailure, "OpenAI 响应中没有有效的 choices")
	}

	choice := decoded.Choices[0]
	out := &llm.Response{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: choice.FinishReason,
	}
	for _, call := range choice.Message.ToolCalls {
		args := json.RawMessage(call.Function.Arguments)
		if len(bytes.TrimSpace(args)) == 0 {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: args})
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return nil, xerrors.New(xerrors.CodeReasoningFailure, "OpenAI 响应内容为空")
	}
	return out, nil
}

func (c *Client) buildPayload(req llm.Request) chatRequest {
	messages := make([]message, 0, len(req.Messages)+1)
	if system := systemText(req); system != "" {
		messages = append(messages, message{Role: "system", Content: str(system)})
	}
	for _, m := range req.Messages {
		switch {
		case len(m.ToolCalls) > 0:
			calls := make([]toolCall, 0, len(m.ToolCalls))
			for _, call := range m.ToolCalls {
				calls = append(calls, toolCall{
					ID:       call.ID,
					Type:     "function",
					Function: functionCall{Name: call.Name, Arguments: string(call.Arguments)},
				})
			}
			var content *string
			if m.Text != "" {
				content = str(m.Text)
			}
			messages = append(messages, message{Role: "assistant", Content: content, ToolCalls: calls})
		case len(m.ToolResults) > 0:
			for _, res := range m.ToolResults {
				messages = append(messages, message{Role: "tool", Content: str(res.Content), ToolCallID: res.CallID})
			}
		default:
			messages = append(messages, message{Role: string(m.Role), Content: str(m.Text)})
		}
	}

	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
		MaxTokens:   req.MaxTokens,
	}
	for _, spec := range req.Tools {
		body.Tools = append(body.Tools, tool{
			Type:     "function",
			Function: function{Name: spec.Name, Description: spec.Description, Parameters: spec.InputSchema},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
		if req.ForceAnswer {
			body.ToolChoice = "none"
		}
	}
	return body
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

func str(s string) *string { return &s }
