package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/llm"
)

type stubMessages struct {
	last sdk.MessageNewParams
	resp *sdk.Message
	err  error
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.last = body
	return s.resp, s.err
}

func baseRequest() llm.Request {
	return llm.Request{
		System:   "You track containers.",
		Messages: []llm.Message{{Role: llm.RoleUser, Text: "Where is CSQU3054383?"}},
		Tools: []llm.ToolSpec{{
			Name:        "query_container",
			Description: "lookup",
			InputSchema: map[string]any{"type": "object"},
		}},
	}
}

func TestGenerateText(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "It is in the yard."}},
		StopReason: sdk.StopReasonEndTurn,
	}}
	c, err := New(stub, Config{Model: "claude-test", MaxTokens: 256})
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, "It is in the yard.", resp.Text)
	require.Empty(t, resp.ToolCalls)

	require.Equal(t, int64(256), stub.last.MaxTokens)
	require.Equal(t, sdk.Model("claude-test"), stub.last.Model)
	require.Len(t, stub.last.System, 1)
	require.Len(t, stub.last.Tools, 1)
	require.Nil(t, stub.last.ToolChoice.OfNone)
}

func TestGenerateToolUse(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Let me check."},
			{Type: "tool_use", ID: "toolu_1", Name: "query_container", Input: json.RawMessage(`{"container_id":"CSQU3054383"}`)},
		},
		StopReason: sdk.StopReasonToolUse,
	}}
	c, err := New(stub, Config{})
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	require.JSONEq(t, `{"container_id":"CSQU3054383"}`, string(resp.ToolCalls[0].Arguments))
	require.Equal(t, "Let me check.", resp.Thought)
	require.Empty(t, resp.Text)
}

func TestForcedAnswerDisablesTools(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{Content: []sdk.ContentBlockUnion{{Type: "text", Text: "done"}}}}
	c, err := New(stub, Config{})
	require.NoError(t, err)

	req := baseRequest()
	req.ForceAnswer = true
	req.Messages = append(req.Messages,
		llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "t1", Name: "query_container", Arguments: json.RawMessage(`{"container_id":"CSQU3054383"}`)}}},
		llm.Message{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{CallID: "t1", Content: `{"found":false}`}}},
	)
	_, err = c.Generate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, stub.last.ToolChoice.OfNone)
	require.Len(t, stub.last.Messages, 3)
}

func TestGenerateErrors(t *testing.T) {
	stub := &stubMessages{err: errors.New("connection reset")}
	c, err := New(stub, Config{})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), baseRequest())
	require.Equal(t, xerrors.CodeReasoningFailure, xerrors.CodeOf(err))

	_, err = c.Generate(context.Background(), llm.Request{})
	require.Equal(t, xerrors.CodeReasoningConfig, xerrors.CodeOf(err))

	stub.err = nil
	stub.resp = &sdk.Message{}
	_, err = c.Generate(context.Background(), baseRequest())
	require.Equal(t, xerrors.CodeReasoningFailure, xerrors.CodeOf(err))

	_, err = NewClient(Config{})
	require.Equal(t, xerrors.CodeReasoningConfig, xerrors.CodeOf(err))
}
