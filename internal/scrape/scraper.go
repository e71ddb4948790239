package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"PNCT-Query/internal/container"
	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/observability/alerting"
	"PNCT-Query/internal/observability/metrics"
	"PNCT-Query/pkg/logger"
)

// FetchInput 是一次抓取请求。
type FetchInput struct {
	QueryID      string `json:"query_id,omitempty"`
	ContainerID  string `json:"container_id"`
	Source       string `json:"source,omitempty"`
	Intent       Intent `json:"intent"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
	AcceptStale  bool   `json:"accept_stale,omitempty"`
}

// Scraper 负责缓存判断、调用数据源与失败分类。
// 除共享缓存外不保存跨调用的可变状态。
type Scraper struct {
	sources *Sources
	cache   Cache
	policy  Policy
	alerts  alerting.Dispatcher
	log     *slog.Logger
	now     func() time.Time
}

// Option 定义 Scraper 的可选配置。
type Option func(*Scraper)

// WithCache 替换默认的进程内缓存。
func WithCache(c Cache) Option {
	return func(s *Scraper) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithPolicy 设置缓存窗口。
func WithPolicy(p Policy) Option {
	return func(s *Scraper) {
		if p.Validity > 0 {
			s.policy.Validity = p.Validity
		}
		if p.StaleHorizon > 0 {
			s.policy.StaleHorizon = p.StaleHorizon
		}
	}
}

// WithAlerts 设置解析失败时的告警分发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(s *Scraper) { s.alerts = d }
}

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Scraper) {
		if now != nil {
			s.now = now
		}
	}
}

// New 创建 Scraper。
func New(sources *Sources, opts ...Option) *Scraper {
	s := &Scraper{
		sources: sources,
		cache:   NewMemoryCache(),
		policy:  DefaultPolicy(),
		log:     logger.Named("scrape"),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Sources 返回已配置的数据源表。
func (s *Scraper) Sources() *Sources { return s.sources }

// Fetch 返回一个集装箱在一个数据源下的记录。
// 有效窗口内的缓存直接返回，窗口外总是先向数据源抓取。
// 上游查无此箱返回 Found=false 的记录而非错误，该结论同样写入缓存；被取消的抓取不写缓存。
// AcceptStale 只在抓取以可重试错误失败时生效，此时返回陈旧上限内的缓存并标记 Stale。
func (s *Scraper) Fetch(ctx context.Context, in FetchInput) (Record, error) {
	if !container.Validate(in.ContainerID) {
		return Record{}, xerrors.New(xerrors.CodeInvalidContainerID, fmt.Sprintf("集装箱号 %q 无效", in.ContainerID))
	}
	intent, ok := ParseIntent(string(in.Intent))
	if !ok {
		return Record{}, xerrors.New(xerrors.CodeInvalidToolInput, fmt.Sprintf("未知意图 %q", in.Intent))
	}
	src, err := s.sources.Lookup(in.Source)
	if err != nil {
		return Record{}, err
	}
	key := Key{ContainerID: in.ContainerID, Source: src.Name()}
	log := s.log.With(
		slog.String("query_id", in.QueryID),
		slog.String("container_id", in.ContainerID),
		slog.String("source", src.Name()),
	)

	var cached *Entry
	if !in.ForceRefresh {
		entry, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn("读取抓取缓存失败，按未命中处理", slog.Any("error", err))
		}
		if hit {
			cached = &entry
			if s.now().Sub(entry.FetchedAt) <= s.policy.Validity {
				metrics.ObserveCache(src.Name(), "hit")
				rec := entry.record(in.ContainerID, src.Name(), intent)
				rec.Cached = true
				return rec, nil
			}
		}
		metrics.ObserveCache(src.Name(), "miss")
	}

	raw, err := src.Fetch(ctx, in.ContainerID)
	if err != nil {
		return s.handleFetchError(ctx, log, in, intent, src.Name(), cached, err)
	}
	if ctx.Err() != nil {
		return Record{}, xerrors.Wrap(xerrors.CodeScrapeTransient, ctx.Err(), "抓取已取消")
	}
	entry := Entry{FetchedAt: s.now()}
	if raw == nil {
		metrics.ObserveFetch(src.Name(), "not_found")
		log.Info("数据源中查无此箱")
		entry.Missing = true
	} else {
		metrics.ObserveFetch(src.Name(), "ok")
		entry.Container = *raw
	}
	if err := s.cache.Put(ctx, key, entry); err != nil {
		log.Warn("写入抓取缓存失败", slog.Any("error", err))
	}
	return entry.record(in.ContainerID, src.Name(), intent), nil
}

func (s *Scraper) handleFetchError(ctx context.Context, log *slog.Logger, in FetchInput, intent Intent, source string, cached *Entry, err error) (Record, error) {
	code := xerrors.CodeOf(err)
	metrics.ObserveFetch(source, string(code))

	if code == xerrors.CodeScrapeParse {
		attrs := []any{slog.Any("error", err)}
		if e, ok := xerrors.From(err); ok {
			for k, v := range e.Metadata() {
				attrs = append(attrs, slog.String(k, v))
			}
		}
		log.Error("数据源响应格式异常", attrs...)
		if s.alerts != nil {
			ev := alerting.FromError(err)
			ev.QueryID = in.QueryID
			ev.ContainerID = in.ContainerID
			ev.Source = source
			if aerr := s.alerts.Notify(context.WithoutCancel(ctx), ev); aerr != nil {
				log.Warn("发送告警失败", slog.Any("error", aerr))
			}
		}
		return Record{}, err
	}

	if in.AcceptStale && cached != nil && xerrors.RetryableError(err) &&
		s.now().Sub(cached.FetchedAt) <= s.policy.StaleHorizon {
		metrics.ObserveCache(source, "stale")
		log.Warn("数据源不可用，返回陈旧缓存", slog.Any("error", err), slog.Time("fetched_at", cached.FetchedAt))
		rec := cached.record(in.ContainerID, source, intent)
		rec.Cached = true
		rec.Stale = true
		if !cached.Missing {
			rec.Note = "source unavailable, served from cache"
		}
		return rec, nil
	}

	log.Warn("抓取失败", slog.String("code", string(code)), slog.Any("error", err))
	return Record{}, err
}
