package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/query"
)

type echoRunner struct {
	store query.Store
	fail  error
}

func (r *echoRunner) Run(ctx context.Context, q query.Query) (query.Result, error) {
	if r.fail != nil {
		return query.Result{}, r.fail
	}
	res := query.Result{
		QueryID:     q.ID,
		ContainerID: "CSQU3054383",
		Answer:      "Container CSQU3054383 is available.",
		Status:      query.StatusSucceeded,
		Rounds:      1,
		CompletedAt: time.Now().UTC(),
	}
	if _, err := r.store.SaveResult(ctx, q, res); err != nil {
		return query.Result{}, err
	}
	return res, nil
}

func newTestServer(t *testing.T, runErr error) (*Server, *query.MemoryStore) {
	t.Helper()
	store := query.NewMemoryStore()
	svc := query.NewService(store, &echoRunner{store: store, fail: runErr})
	return NewServer(":0", svc), store
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestSubmitQuerySync(t *testing.T) {
	server, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(`{"id":"q-1","query":"Is CSQU3054383 available?"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var got query.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.QueryID != "q-1" || got.ContainerID != "CSQU3054383" || got.Status != query.StatusSucceeded {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestSubmitQueryAsync(t *testing.T) {
	server, store := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries?async=true", strings.NewReader(`{"id":"q-async","query":"CSQU3054383"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusAccepted)
	}
	var got query.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Query.ID != "q-async" {
		t.Fatalf("unexpected record: %+v", got)
	}

	svc := query.NewService(store, &echoRunner{store: store})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done, err := svc.WaitUntilCompleted(ctx, "q-async", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for background query: %v", err)
	}
	if done.Result == nil || done.Result.Answer == "" {
		t.Fatalf("expected stored answer, got %+v", done)
	}
}

func TestSubmitQueryErrors(t *testing.T) {
	t.Run("invalid body", func(t *testing.T) {
		server, _ := newTestServer(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("empty question", func(t *testing.T) {
		server, _ := newTestServer(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(`{"query":"  "}`))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
		}
		if body := decodeError(t, rec); body.Error.Code != string(query.CodeQueryValidation) {
			t.Fatalf("unexpected error code: %+v", body)
		}
	})

	t.Run("malformed id", func(t *testing.T) {
		server, store := newTestServer(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(`{"id":"order #42/a b","query":"CSQU3054383"}`))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
		}
		if body := decodeError(t, rec); body.Error.Code != string(query.CodeQueryValidation) {
			t.Fatalf("unexpected error code: %+v", body)
		}
		if _, err := store.Get(context.Background(), "order #42/a b"); !query.IsNotFound(err) {
			t.Fatalf("malformed id should not be stored: %v", err)
		}
	})

	t.Run("runner failure", func(t *testing.T) {
		server, store := newTestServer(t, xerrors.New(xerrors.CodeReasoningFailure, "推理服务不可用"))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(`{"id":"q-fail","query":"CSQU3054383"}`))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusInternalServerError)
		}
		if body := decodeError(t, rec); body.Error.Code != string(xerrors.CodeReasoningFailure) {
			t.Fatalf("unexpected error code: %+v", body)
		}
		stored, err := store.Get(context.Background(), "q-fail")
		if err != nil {
			t.Fatalf("get stored query: %v", err)
		}
		if stored.Status != query.StatusFailed {
			t.Fatalf("expected failed status, got %s", stored.Status)
		}
	})

	t.Run("invalid method", func(t *testing.T) {
		server, _ := newTestServer(t, nil)
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/queries", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
		}
	})
}

func TestQueryDetail(t *testing.T) {
	server, store := newTestServer(t, nil)
	ctx := context.Background()
	q := query.Query{ID: "q-detail", Text: "CSQU3054383", SubmittedAt: time.Now().UTC()}
	if err := store.Create(ctx, q); err != nil {
		t.Fatalf("create query: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queries/q-detail", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got query.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Query.ID != "q-detail" || got.Status != query.StatusPending {
		t.Fatalf("unexpected record: %+v", got)
	}

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/queries/missing", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queries/q-detail", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
		}
	})
}

func TestListAndStats(t *testing.T) {
	server, _ := newTestServer(t, nil)
	handler := server.Handler()
	for _, id := range []string{"q-a", "q-b"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(`{"id":"`+id+`","query":"CSQU3054383"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("submit %s: status %d", id, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queries?status=succeeded&container_id=csqu3054383&limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var records []query.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record with limit, got %d", len(records))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queries/stats", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var stats query.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 queries in stats, got %+v", stats)
	}

	t.Run("invalid filters", func(t *testing.T) {
		for _, target := range []string{
			"/api/v1/queries?status=bogus",
			"/api/v1/queries?limit=-1",
			"/api/v1/queries?order=sideways",
			"/api/v1/queries?since=yesterday",
		} {
			req := httptest.NewRequest(http.MethodGet, target, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("%s: unexpected status code: got %d want %d", target, rec.Code, http.StatusBadRequest)
			}
		}
	})
}

func TestHealthAndShutdown(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected health status: %d", rec.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec = httptest.NewRecorder()
	withContext(ctx, server.Handler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[xerrors.Code]int{
		query.CodeQueryValidation:         http.StatusBadRequest,
		query.CodeQueryNotFound:           http.StatusNotFound,
		query.CodeQueryConflict:           http.StatusConflict,
		xerrors.CodeInitializationFailure: http.StatusServiceUnavailable,
		xerrors.CodeStorageFailure:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Fatalf("statusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
