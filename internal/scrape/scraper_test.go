package scrape

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/observability/alerting"
)

type stubSource struct {
	mu    sync.Mutex
	name  string
	calls int
	resp  []stubResponse
}

type stubResponse struct {
	container *Container
	err       error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, _ string) (*Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.resp) {
		idx = len(s.resp) - 1
	}
	s.calls++
	return s.resp[idx].container, s.resp[idx].err
}

func (s *stubSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingAlerts struct {
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, ev alerting.Event) error {
	r.events = append(r.events, ev)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func sample(t *testing.T) *Container {
	t.Helper()
	var c Container
	if err := json.Unmarshal([]byte(sampleContainer), &c); err != nil {
		t.Fatalf("decode sample: %v", err)
	}
	return &c
}

func newScraper(t *testing.T, src *stubSource, opts ...Option) (*Scraper, *fakeClock) {
	t.Helper()
	sources, err := NewSources(src)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	clock := &fakeClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.now)}, opts...)
	return New(sources, opts...), clock
}

func TestFetchUsesCacheInsideValidityWindow(t *testing.T) {
	src := &stubSource{name: "pnct", resp: []stubResponse{{container: sample(t)}}}
	s, clock := newScraper(t, src, WithPolicy(Policy{Validity: 3 * time.Minute}))
	in := FetchInput{ContainerID: "CSQU3054383", Intent: IntentStatus}

	first, err := s.Fetch(context.Background(), in)
	if err != nil || first.Cached {
		t.Fatalf("first fetch should go upstream: %+v %v", first, err)
	}
	clock.advance(2 * time.Minute)
	second, err := s.Fetch(context.Background(), FetchInput{ContainerID: "CSQU3054383", Intent: IntentHolds})
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.Cached || second.Stale || second.Holds == nil {
		t.Fatalf("expected fresh cached record projected for holds: %+v", second)
	}
	if src.count() != 1 {
		t.Fatalf("expected a single upstream call, got %d", src.count())
	}

	clock.advance(2 * time.Minute)
	if _, err := s.Fetch(context.Background(), in); err != nil {
		t.Fatalf("third fetch: %v", err)
	}
	if src.count() != 2 {
		t.Fatalf("expired entry should trigger a new fetch, calls=%d", src.count())
	}
}

func TestForceRefreshBypassesCache(t *testing.T) {
	src := &stubSource{name: "pnct", resp: []stubResponse{{container: sample(t)}}}
	s, _ := newScraper(t, src)
	in := FetchInput{ContainerID: "CSQU3054383", Intent: IntentStatus}
	if _, err := s.Fetch(context.Background(), in); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	in.ForceRefresh = true
	rec, err := s.Fetch(context.Background(), in)
	if err != nil || rec.Cached {
		t.Fatalf("forced refresh should not be cached: %+v %v", rec, err)
	}
	if src.count() != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", src.count())
	}
}

func TestAcceptStaleServesCacheWhenSourceDown(t *testing.T) {
	transient := xerrors.New(xerrors.CodeScrapeTransient, "down")
	src := &stubSource{name: "pnct", resp: []stubResponse{{container: sample(t)}, {err: transient}}}
	s, clock := newScraper(t, src)
	in := FetchInput{ContainerID: "CSQU3054383", Intent: IntentStatus}
	if _, err := s.Fetch(context.Background(), in); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	clock.advance(10 * time.Minute)

	if _, err := s.Fetch(context.Background(), in); xerrors.CodeOf(err) != xerrors.CodeScrapeTransient {
		t.Fatalf("without accept_stale the failure must surface, got %v", err)
	}

	in.AcceptStale = true
	rec, err := s.Fetch(context.Background(), in)
	if err != nil {
		t.Fatalf("stale fetch: %v", err)
	}
	if !rec.Stale || !rec.Cached {
		t.Fatalf("expected stale record, got %+v", rec)
	}

	clock.advance(time.Hour)
	if _, err := s.Fetch(context.Background(), in); err == nil {
		t.Fatalf("entries beyond the stale horizon must not be served")
	}
}

func TestAcceptStaleServesCachedNotFound(t *testing.T) {
	transient := xerrors.New(xerrors.CodeScrapeTransient, "down")
	src := &stubSource{name: "pnct", resp: []stubResponse{{}, {err: transient}}}
	s, clock := newScraper(t, src)
	in := FetchInput{ContainerID: "CSQU3054383", Intent: IntentStatus, AcceptStale: true}
	if _, err := s.Fetch(context.Background(), in); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	clock.advance(10 * time.Minute)

	rec, err := s.Fetch(context.Background(), in)
	if err != nil {
		t.Fatalf("stale fetch: %v", err)
	}
	if rec.Found || !rec.Stale || !rec.Cached || rec.Note != NotFoundNote {
		t.Fatalf("expected stale not-found record, got %+v", rec)
	}
}

func TestAcceptStaleStillFetchesWhenSourceHealthy(t *testing.T) {
	src := &stubSource{name: "pnct", resp: []stubResponse{{container: sample(t)}}}
	s, clock := newScraper(t, src)
	in := FetchInput{ContainerID: "CSQU3054383", Intent: IntentStatus, AcceptStale: true}
	if _, err := s.Fetch(context.Background(), in); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	clock.advance(10 * time.Minute)

	rec, err := s.Fetch(context.Background(), in)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if rec.Stale || rec.Cached {
		t.Fatalf("a healthy source must be asked before serving stale data: %+v", rec)
	}
	if !rec.FetchedAt.Equal(clock.now()) {
		t.Fatalf("expected a fresh observation at %s, got %s", clock.now(), rec.FetchedAt)
	}
	if src.count() != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", src.count())
	}
}

func TestNotFoundIsNotAnErrorAndIsCached(t *testing.T) {
	src := &stubSource{name: "pnct", resp: []stubResponse{{}}}
	s, clock := newScraper(t, src, WithPolicy(Policy{Validity: 3 * time.Minute, StaleHorizon: 30 * time.Minute}))
	in := FetchInput{ContainerID: "CSQU3054383", Intent: IntentAll}
	rec, err := s.Fetch(context.Background(), in)
	if err != nil {
		t.Fatalf("not found should not fail: %v", err)
	}
	if rec.Found || rec.Cached || rec.TrackingStatus != "unknown" || rec.Note != NotFoundNote {
		t.Fatalf("unexpected record %+v", rec)
	}

	clock.advance(time.Minute)
	again, err := s.Fetch(context.Background(), FetchInput{ContainerID: "CSQU3054383", Intent: IntentHolds})
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if again.Found || !again.Cached || again.Note != NotFoundNote || !again.FetchedAt.Equal(rec.FetchedAt) {
		t.Fatalf("expected cached not-found record, got %+v", again)
	}
	if src.count() != 1 {
		t.Fatalf("not found inside the validity window must not refetch, calls=%d", src.count())
	}

	clock.advance(5 * time.Minute)
	if _, err := s.Fetch(context.Background(), in); err != nil {
		t.Fatalf("third fetch: %v", err)
	}
	if src.count() != 2 {
		t.Fatalf("expired not-found entry should trigger a new fetch, calls=%d", src.count())
	}
}

func TestNotFoundIsReplacedOnceContainerAppears(t *testing.T) {
	src := &stubSource{name: "pnct", resp: []stubResponse{{}, {container: sample(t)}}}
	cache := NewMemoryCache()
	s, clock := newScraper(t, src, WithCache(cache))
	in := FetchInput{ContainerID: "CSQU3054383", Intent: IntentStatus}
	if _, err := s.Fetch(context.Background(), in); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	clock.advance(10 * time.Minute)
	rec, err := s.Fetch(context.Background(), in)
	if err != nil || !rec.Found {
		t.Fatalf("expected the container to be found: %+v %v", rec, err)
	}
	entry, hit, _ := cache.Get(context.Background(), Key{ContainerID: "CSQU3054383", Source: "pnct"})
	if !hit || entry.Missing {
		t.Fatalf("found record should replace the not-found entry: %+v", entry)
	}
}

func TestParseErrorAlertsAndIsNotRetryable(t *testing.T) {
	parseErr := xerrors.New(xerrors.CodeScrapeParse, "bad", xerrors.WithMetadata("body", "<html>"))
	src := &stubSource{name: "pnct", resp: []stubResponse{{err: parseErr}}}
	alerts := &recordingAlerts{}
	s, _ := newScraper(t, src, WithAlerts(alerts))

	_, err := s.Fetch(context.Background(), FetchInput{QueryID: "q-1", ContainerID: "CSQU3054383", Intent: IntentAll})
	if xerrors.CodeOf(err) != xerrors.CodeScrapeParse || xerrors.RetryableError(err) {
		t.Fatalf("expected non-retryable parse error, got %v", err)
	}
	if len(alerts.events) != 1 || alerts.events[0].QueryID != "q-1" || alerts.events[0].Source != "pnct" {
		t.Fatalf("expected one alert, got %+v", alerts.events)
	}
}

func TestCancelledFetchNeverWritesCache(t *testing.T) {
	src := &stubSource{name: "pnct", resp: []stubResponse{{container: sample(t)}}}
	cache := NewMemoryCache()
	s, _ := newScraper(t, src, WithCache(cache))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Fetch(ctx, FetchInput{ContainerID: "CSQU3054383", Intent: IntentAll}); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if _, hit, _ := cache.Get(context.Background(), Key{ContainerID: "CSQU3054383", Source: "pnct"}); hit {
		t.Fatalf("cancelled fetch must not populate the cache")
	}
}

func TestFetchRejectsBadInput(t *testing.T) {
	src := &stubSource{name: "pnct", resp: []stubResponse{{container: sample(t)}}}
	s, _ := newScraper(t, src)

	if _, err := s.Fetch(context.Background(), FetchInput{ContainerID: "CSQU3054380"}); xerrors.CodeOf(err) != xerrors.CodeInvalidContainerID {
		t.Fatalf("expected invalid id, got %v", err)
	}
	if _, err := s.Fetch(context.Background(), FetchInput{ContainerID: "CSQU3054383", Source: "maher"}); xerrors.CodeOf(err) != xerrors.CodeScrapeUnknownSource {
		t.Fatalf("expected unknown source, got %v", err)
	}
	if src.count() != 0 {
		t.Fatalf("invalid input must not reach the source")
	}
}

func TestSourcesRegistry(t *testing.T) {
	if _, err := NewSources(); err == nil {
		t.Fatalf("empty registry should fail")
	}
	if _, err := NewSources(&stubSource{name: "a"}, &stubSource{name: "A"}); err == nil {
		t.Fatalf("duplicate names should fail")
	}
	s, err := NewSources(&stubSource{name: "pnct"}, &stubSource{name: "maher"}, &stubSource{name: "apm"})
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	names := s.Names()
	if names[0] != "pnct" || names[1] != "apm" || names[2] != "maher" {
		t.Fatalf("unexpected order %v", names)
	}
	if src, _ := s.Lookup(""); src.Name() != "pnct" {
		t.Fatalf("empty lookup should return default")
	}
}
