package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	xerrors "PNCT-Query/internal/errors"
)

type countingClient struct{ calls atomic.Int32 }

func (c *countingClient) Generate(context.Context, Request) (*Response, error) {
	c.calls.Add(1)
	return &Response{Text: "ok"}, nil
}

func TestRateLimitedPassesThrough(t *testing.T) {
	inner := &countingClient{}
	client := RateLimited(inner, 600)
	for i := 0; i < 3; i++ {
		if _, err := client.Generate(context.Background(), Request{}); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}
	if inner.calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls.Load())
	}
	if RateLimited(inner, 0) != Client(inner) {
		t.Fatalf("zero rpm should disable the limiter")
	}
}

func TestRateLimitedHonoursContext(t *testing.T) {
	inner := &countingClient{}
	client := RateLimited(inner, 1)
	if _, err := client.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Generate(ctx, Request{})
	if xerrors.CodeOf(err) != xerrors.CodeReasoningTimeout {
		t.Fatalf("expected reasoning timeout, got %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("throttled call must not reach the provider")
	}
}

func TestStatusError(t *testing.T) {
	cases := map[int]xerrors.Code{
		401: xerrors.CodeReasoningConfig,
		400: xerrors.CodeReasoningConfig,
		408: xerrors.CodeReasoningTimeout,
		429: xerrors.CodeReasoningRateLimited,
		503: xerrors.CodeReasoningFailure,
	}
	for status, code := range cases {
		if got := xerrors.CodeOf(StatusError("openai", status, "x")); got != code {
			t.Fatalf("status %d: expected %s, got %s", status, code, got)
		}
	}
	limited, _ := xerrors.From(StatusError("openai", 429, "slow down", xerrors.WithRetryAfter(7*time.Second)))
	if !limited.Retryable() || limited.Metadata()["status"] != "429" || limited.RetryAfter() != 7*time.Second {
		t.Fatalf("rate limit should be retryable and carry status and delay: %v %v", limited, limited.Metadata())
	}
	if xerrors.RetryableError(StatusError("openai", 401, "")) {
		t.Fatalf("auth errors must not be retryable")
	}
	if xerrors.CodeOf(TransportError("openai", context.DeadlineExceeded)) != xerrors.CodeReasoningTimeout {
		t.Fatalf("deadline should map to timeout")
	}
	if !xerrors.RetryableError(TransportError("openai", errors.New("reset"))) {
		t.Fatalf("transport errors should be retryable")
	}
}

func TestRequestHelpers(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: RoleUser, Text: "where is CSQU3054383"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "query_container"}}},
		{Role: RoleUser, ToolResults: []ToolResult{{CallID: "c1", Content: "{}"}}},
	}}
	if req.LastUserText() != "where is CSQU3054383" {
		t.Fatalf("unexpected last user text %q", req.LastUserText())
	}
	if len(req.ToolCalls()) != 1 || len(req.ToolResults()) != 1 {
		t.Fatalf("unexpected transcript helpers")
	}
}
