package query

import (
	"context"
	"testing"
	"time"

	xerrors "PNCT-Query/internal/errors"
)

func newQuery(id, text string) Query {
	return Query{ID: id, Text: text, SubmittedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func TestMemoryStoreSaveResultIsInsertIfAbsent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	q := newQuery("q1", "where is CSQU3054383")

	if err := store.Create(ctx, q); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, q); err != ErrQueryConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	first := Result{QueryID: "q1", ContainerID: "CSQU3054383", Answer: "first", Status: StatusSucceeded}
	stored, err := store.SaveResult(ctx, q, first)
	if err != nil || !stored {
		t.Fatalf("first save: stored=%v err=%v", stored, err)
	}
	stored, err = store.SaveResult(ctx, q, Result{QueryID: "q1", Answer: "second", Status: StatusFailed})
	if err != nil || stored {
		t.Fatalf("second save must be ignored: stored=%v err=%v", stored, err)
	}

	rec, err := store.Get(ctx, "q1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Result.Answer != "first" || rec.Status != StatusSucceeded {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := store.MarkFailed(ctx, "q1", xerrors.CodeTimeout, "late"); err != nil {
		t.Fatalf("mark failed on finished record: %v", err)
	}
	if rec, _ := store.Get(ctx, "q1"); rec.Status != StatusSucceeded {
		t.Fatalf("finished record must not change, got %s", rec.Status)
	}
	if err := store.MarkRunning(ctx, "q1"); err != ErrQueryConflict {
		t.Fatalf("expected conflict for finished record, got %v", err)
	}
}

func TestMemoryStoreSaveResultCreatesMissingRecord(t *testing.T) {
	store := NewMemoryStore()
	stored, err := store.SaveResult(context.Background(), newQuery("", "CSQU3054383"), Result{QueryID: "q9", Status: StatusSucceeded})
	if err != nil || !stored {
		t.Fatalf("save: stored=%v err=%v", stored, err)
	}
	rec, err := store.Get(context.Background(), "q9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Query.ID != "q9" || rec.Query.Text != "CSQU3054383" {
		t.Fatalf("unexpected query: %+v", rec.Query)
	}
	if _, err := store.Get(context.Background(), "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)

	for _, id := range []string{"q1", "q2", "q3"} {
		if err := store.Create(ctx, newQuery(id, "question "+id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := store.MarkFailed(ctx, "q2", xerrors.CodeTimeout, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.SaveResult(ctx, Query{}, Result{QueryID: "q3", ContainerID: "CSQU3054383", Answer: "No holds.", Status: StatusSucceeded, TimedOut: true}); err != nil {
		t.Fatalf("save: %v", err)
	}

	store.mu.Lock()
	store.records["q1"].UpdatedAt = base.Unix()
	store.records["q2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.records["q3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].Query.ID != "q3" {
		t.Fatalf("expected newest record first, got %+v", all)
	}

	asc, _ := store.List(ctx, BuildListOptions(WithSortOrder(SortByUpdatedAsc), WithLimit(1)))
	if len(asc) != 1 || asc[0].Query.ID != "q1" {
		t.Fatalf("unexpected ascending page: %+v", asc)
	}

	failed, _ := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed)))
	if len(failed) != 1 || failed[0].Query.ID != "q2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	done, _ := store.List(ctx, BuildListOptions(WithResultPresence(true)))
	if len(done) != 1 || done[0].Query.ID != "q3" {
		t.Fatalf("unexpected result list: %+v", done)
	}

	byContainer, _ := store.List(ctx, BuildListOptions(WithContainerID("csqu3054383")))
	if len(byContainer) != 1 {
		t.Fatalf("expected container filter to match q3, got %+v", byContainer)
	}

	byText, _ := store.List(ctx, BuildListOptions(WithQuery("no holds")))
	if len(byText) != 1 || byText[0].Query.ID != "q3" {
		t.Fatalf("unexpected text search: %+v", byText)
	}

	recent, _ := store.List(ctx, BuildListOptions(WithUpdatedSince(base.Add(15*time.Second))))
	if len(recent) != 2 {
		t.Fatalf("expected 2 records to match since filter, got %d", len(recent))
	}

	page, _ := store.List(ctx, BuildListOptions(WithOffset(5)))
	if len(page) != 0 {
		t.Fatalf("offset past the end should be empty, got %d", len(page))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Create(ctx, newQuery("a", "x"))
	_ = store.Create(ctx, newQuery("b", "y"))
	_ = store.MarkRunning(ctx, "b")
	_, _ = store.SaveResult(ctx, Query{}, Result{QueryID: "c", Status: StatusSucceeded, Incomplete: true})
	_, _ = store.SaveResult(ctx, Query{}, Result{QueryID: "d", Status: StatusFailed, ErrorCode: "REASONING_FAILURE"})
	_ = store.MarkPublished(ctx, "d")

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Pending != 1 || stats.Running != 1 || stats.Succeeded != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Incomplete != 1 || stats.Unpublished != 1 {
		t.Fatalf("unexpected flag counters: %+v", stats)
	}
	if stats.OldestUpdatedAt == 0 || stats.NewestUpdatedAt < stats.OldestUpdatedAt {
		t.Fatalf("unexpected timestamps: %+v", stats)
	}
}

func TestResultFlag(t *testing.T) {
	cases := []struct {
		res  Result
		want string
	}{
		{Result{Status: StatusSucceeded}, "none"},
		{Result{Status: StatusSucceeded, TimedOut: true, Incomplete: true}, "timed_out"},
		{Result{Status: StatusSucceeded, Incomplete: true}, "incomplete"},
		{Result{Status: StatusSucceeded, ErrorCode: "INVALID_CONTAINER_ID"}, "unidentified"},
		{Result{Status: StatusFailed, ErrorCode: "REASONING_FAILURE"}, "error"},
	}
	for _, tc := range cases {
		if got := tc.res.Flag(); got != tc.want {
			t.Fatalf("Flag(%+v) = %s, want %s", tc.res, got, tc.want)
		}
	}
}
