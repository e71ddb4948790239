package query

import (
	"context"
	"errors"
	"sync"
	"testing"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/observability/alerting"
	"PNCT-Query/internal/observability/metrics"
)

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, ev alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestFinalizePersistsAndPublishesOnce(t *testing.T) {
	store := NewMemoryStore()
	pub := NewMemoryPublisher()
	f := NewFinalizer(store, WithPublisher(pub))
	ctx := context.Background()

	before := metrics.CounterValue("pnct_queries_total", "succeeded", "none")
	in := FinalizeInput{
		Query:  newQuery("f1", "CSQU3054383"),
		Result: Result{QueryID: "f1", ContainerID: "CSQU3054383", Answer: "ok", Status: StatusSucceeded, Rounds: 2},
	}
	got, err := f.Finalize(ctx, in)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got.Answer != "ok" || got.CompletedAt.IsZero() {
		t.Fatalf("unexpected result: %+v", got)
	}

	in.Result.Answer = "retry with a different answer"
	again, err := f.Finalize(ctx, in)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if again.Answer != "ok" {
		t.Fatalf("second finalize must return the stored result, got %q", again.Answer)
	}
	if n := len(pub.Published()); n != 1 {
		t.Fatalf("expected one publication, got %d", n)
	}
	if after := metrics.CounterValue("pnct_queries_total", "succeeded", "none"); after != before+1 {
		t.Fatalf("expected query counter to grow by one, got %d -> %d", before, after)
	}
	rec, _ := store.Get(ctx, "f1")
	if !rec.Published {
		t.Fatalf("record should be marked published")
	}
}

func TestFinalizeRetriesPublishAfterFailure(t *testing.T) {
	store := NewMemoryStore()
	pub := NewMemoryPublisher()
	pub.FailWith(errors.New("broker down"))
	f := NewFinalizer(store, WithPublisher(pub))
	in := FinalizeInput{Query: newQuery("f2", "x"), Result: Result{QueryID: "f2", Status: StatusSucceeded}}

	_, err := f.Finalize(context.Background(), in)
	if xerrors.CodeOf(err) != CodeQueryPublish || !xerrors.RetryableError(err) {
		t.Fatalf("expected retryable publish failure, got %v", err)
	}

	pub.FailWith(nil)
	if _, err := f.Finalize(context.Background(), in); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := len(pub.Published()); n != 1 {
		t.Fatalf("expected publication after retry, got %d", n)
	}
}

func TestFinalizeAlertsOnFailedQuery(t *testing.T) {
	alerts := &recordingAlerts{}
	f := NewFinalizer(NewMemoryStore(), WithAlertDispatcher(alerts))
	_, err := f.Finalize(context.Background(), FinalizeInput{
		Query:  newQuery("f3", "CSQU3054383"),
		Result: Result{QueryID: "f3", ContainerID: "CSQU3054383", Status: StatusFailed, ErrorCode: string(xerrors.CodeReasoningFailure)},
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(alerts.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.events))
	}
	ev := alerts.events[0]
	if ev.Code != xerrors.CodeReasoningFailure || ev.QueryID != "f3" || ev.Metadata["stage"] != "finalize" {
		t.Fatalf("unexpected alert: %+v", ev)
	}
}

func TestFinalizeWithoutStore(t *testing.T) {
	if _, err := NewFinalizer(nil).Finalize(context.Background(), FinalizeInput{}); err == nil {
		t.Fatalf("expected error without store")
	}
}
