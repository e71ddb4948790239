package query

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/pkg/logger"
)

// MaxQueryIDLength 是调用方自带查询 ID 的最大字节数。
const MaxQueryIDLength = 64

// 查询 ID 会拼入工作流 ID 与 URL 路径，只允许字母、数字、下划线和连字符。
var queryIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateID 校验调用方提供的查询 ID。
func ValidateID(id string) error {
	if len(id) > MaxQueryIDLength {
		return xerrors.New(CodeQueryValidation, fmt.Sprintf("查询 ID 长度不能超过 %d 字节", MaxQueryIDLength))
	}
	if !queryIDPattern.MatchString(id) {
		return xerrors.New(CodeQueryValidation, "查询 ID 只能包含字母、数字、下划线和连字符")
	}
	return nil
}

// Runner 执行一次查询直到得到最终结果，由工作流引擎实现。
type Runner interface {
	Run(ctx context.Context, q Query) (Result, error)
}

// SubmitRequest 是提交查询的请求，ID 为空时自动生成。
type SubmitRequest struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"query"`
}

// Service 负责查询的提交与查询。
type Service struct {
	store  Store
	runner Runner
	now    func() time.Time
}

// NewService 构造查询服务。
func NewService(store Store, runner Runner) *Service {
	return &Service{store: store, runner: runner, now: time.Now}
}

// Submit 提交查询并同步等待结果。同一 ID 重复提交时返回已有结果。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	q, existing, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing.Done() {
		res := *existing.Result
		return &res, nil
	}
	return s.run(ctx, q)
}

// Start 提交查询后立即返回记录，查询在后台执行。
func (s *Service) Start(ctx context.Context, req SubmitRequest) (*Record, error) {
	q, existing, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing.Done() {
		return existing, nil
	}
	go func() {
		bg := context.WithoutCancel(ctx)
		if _, err := s.run(bg, q); err != nil {
			logger.L().Warn("后台查询失败", slog.String("query_id", q.ID), slog.Any("error", err))
		}
	}()
	return s.store.Get(ctx, q.ID)
}

func (s *Service) prepare(ctx context.Context, req SubmitRequest) (Query, *Record, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Query{}, nil, xerrors.New(CodeQueryValidation, "查询内容不能为空")
	}
	if s.store == nil || s.runner == nil {
		return Query{}, nil, xerrors.New(xerrors.CodeInitializationFailure, "查询服务未初始化")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	} else if err := ValidateID(id); err != nil {
		return Query{}, nil, err
	} else if existing, err := s.store.Get(ctx, id); err == nil {
		return existing.Query, existing, nil
	} else if !IsNotFound(err) {
		return Query{}, nil, err
	}

	q := Query{ID: id, Text: text, SubmittedAt: s.now().UTC()}
	if err := s.store.Create(ctx, q); err != nil {
		if !stdErrors.Is(err, ErrQueryConflict) {
			return Query{}, nil, err
		}
		existing, getErr := s.store.Get(ctx, id)
		if getErr != nil {
			return Query{}, nil, getErr
		}
		return existing.Query, existing, nil
	}
	return q, nil, nil
}

func (s *Service) run(ctx context.Context, q Query) (*Result, error) {
	if err := s.store.MarkRunning(ctx, q.ID); err != nil && !stdErrors.Is(err, ErrQueryConflict) {
		return nil, err
	}
	logger.Audit().Info("查询已提交", slog.String("query_id", q.ID), slog.String("query", q.Text))

	res, err := s.runner.Run(ctx, q)
	if err != nil {
		code := xerrors.CodeOf(err)
		if markErr := s.store.MarkFailed(context.WithoutCancel(ctx), q.ID, code, err.Error()); markErr != nil {
			logger.L().Error("回写失败状态出错", slog.String("query_id", q.ID), slog.Any("error", markErr))
		}
		return nil, err
	}
	return &res, nil
}

// Get 返回指定查询的记录。
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "查询存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的记录列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "查询存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "查询存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// WaitUntilCompleted 轮询直到查询得到最终结果或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Record, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Done() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
