package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/observability/metrics"
	"PNCT-Query/internal/query"
	"PNCT-Query/pkg/logger"
)

// QueryService 是 API 依赖的查询服务能力，由 query.Service 实现。
type QueryService interface {
	Submit(ctx context.Context, req query.SubmitRequest) (*query.Result, error)
	Start(ctx context.Context, req query.SubmitRequest) (*query.Record, error)
	Get(ctx context.Context, id string) (*query.Record, error)
	List(ctx context.Context, opts ...query.ListOption) ([]*query.Record, error)
	Stats(ctx context.Context, opts ...query.ListOption) (query.Stats, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr string
	svc  QueryService
	log  *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc QueryService) *Server {
	return &Server{addr: addr, svc: svc, log: logger.Named("api")}
}

// Handler 返回挂载了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/queries", instrument("queries", http.HandlerFunc(s.handleQueries)))
	mux.Handle("/api/v1/queries/stats", instrument("query_stats", http.HandlerFunc(s.handleStats)))
	mux.Handle("/api/v1/queries/", instrument("query_detail", http.HandlerFunc(s.handleQueryDetail)))
	mux.Handle("/healthz", instrument("healthz", http.HandlerFunc(handleHealth)))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET/POST")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req query.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(query.CodeQueryValidation), "请求体解析失败")
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		rec, err := s.svc.Start(r.Context(), req)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, rec)
		return
	}

	res, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), err.Error())
		return
	}
	records, err := s.svc.List(r.Context(), opts...)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), err.Error())
		return
	}
	stats, err := s.svc.Stats(r.Context(), opts...)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueryDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/queries/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, string(query.CodeQueryNotFound), "查询不存在")
		return
	}
	rec, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listOptions 解析 status、container_id、q、since、until、order、limit、offset 参数。
func listOptions(r *http.Request) ([]query.ListOption, error) {
	values := r.URL.Query()
	var opts []query.ListOption

	if raw := values.Get("status"); raw != "" {
		var statuses []query.Status
		for _, part := range strings.Split(raw, ",") {
			st := query.Status(strings.ToLower(strings.TrimSpace(part)))
			if !query.IsValidStatus(st) {
				return nil, errors.New("未知的查询状态: " + part)
			}
			statuses = append(statuses, st)
		}
		opts = append(opts, query.WithStatuses(statuses...))
	}
	if id := values.Get("container_id"); id != "" {
		opts = append(opts, query.WithContainerID(id))
	}
	if q := values.Get("q"); q != "" {
		opts = append(opts, query.WithQuery(q))
	}
	for key, build := range map[string]func(time.Time) query.ListOption{
		"since": query.WithUpdatedSince,
		"until": query.WithUpdatedUntil,
	} {
		raw := values.Get(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.New(key + " 需要 RFC3339 时间")
		}
		opts = append(opts, build(ts))
	}
	switch strings.ToLower(values.Get("order")) {
	case "":
	case "asc":
		opts = append(opts, query.WithSortOrder(query.SortByUpdatedAsc))
	case "desc":
		opts = append(opts, query.WithSortOrder(query.SortByUpdatedDesc))
	default:
		return nil, errors.New("order 仅支持 asc 或 desc")
	}
	for key, build := range map[string]func(int) query.ListOption{
		"limit":  query.WithLimit,
		"offset": query.WithOffset,
	} {
		raw := values.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, errors.New(key + " 需要非负整数")
		}
		opts = append(opts, build(n))
	}
	return opts, nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", slog.String("code", string(code)), slog.Any("error", err))
	}
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
	}
	writeError(w, status, string(code), msg)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case query.CodeQueryValidation, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case query.CodeQueryNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case query.CodeQueryConflict, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
