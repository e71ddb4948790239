package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"PNCT-Query/internal/agent"
	"PNCT-Query/internal/config"
	"PNCT-Query/internal/knowledge"
	"PNCT-Query/internal/llm"
	"PNCT-Query/internal/llm/anthropic"
	"PNCT-Query/internal/llm/openai"
	"PNCT-Query/internal/llm/rules"
	"PNCT-Query/internal/observability/alerting"
	"PNCT-Query/internal/query"
	"PNCT-Query/internal/scrape"
	"PNCT-Query/internal/storage/mysql"
	"PNCT-Query/internal/tools"
	"PNCT-Query/internal/workflow"
	"PNCT-Query/pkg/logger"
)

// App 持有由配置装配出的全部组件。
type App struct {
	Config     *config.Config
	Sources    *scrape.Sources
	Scraper    *scrape.Scraper
	Registry   *tools.Registry
	Invoker    *tools.Invoker
	Agent      *agent.Orchestrator
	Store      query.Store
	Publisher  query.Publisher
	Alerts     alerting.Dispatcher
	Finalizer  *query.Finalizer
	Activities *workflow.Activities

	closers []func() error
}

// Build 按配置创建组件。返回错误时已创建的资源会被释放。
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Alerts = buildAlerts(cfg.Alerting)

	if a.Sources, err = buildSources(cfg.Scrape); err != nil {
		return nil, err
	}
	cache, err := a.buildCache(ctx, cfg.Scrape)
	if err != nil {
		return nil, err
	}
	a.Scraper = scrape.New(a.Sources,
		scrape.WithCache(cache),
		scrape.WithPolicy(scrape.Policy{
			Validity:     time.Duration(cfg.Scrape.ValiditySeconds) * time.Second,
			StaleHorizon: time.Duration(cfg.Scrape.StaleSeconds) * time.Second,
		}),
		scrape.WithAlerts(a.Alerts),
	)

	names := a.Sources.Names()
	if a.Registry, err = tools.Catalog(names); err != nil {
		return nil, err
	}
	a.Invoker = workflow.NewInvoker(a.Registry, names)

	client, err := BuildLLMClient(cfg.LLM, names)
	if err != nil {
		return nil, err
	}
	kp, err := buildKnowledge(cfg.Knowledge)
	if err != nil {
		return nil, err
	}
	a.Agent = agent.New(client, a.Registry,
		agent.WithKnowledgeProvider(kp),
		agent.WithLLMTimeout(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
		agent.WithProviderName(cfg.LLM.Provider),
		agent.WithMaxTokens(cfg.LLM.MaxTokens),
	)

	if a.Store, err = a.buildStore(ctx, cfg.Storage.QueryStore); err != nil {
		return nil, err
	}
	if a.Publisher, err = a.buildPublisher(ctx, cfg.Publisher); err != nil {
		return nil, err
	}
	a.Finalizer = query.NewFinalizer(a.Store,
		query.WithPublisher(a.Publisher),
		query.WithAlertDispatcher(a.Alerts),
	)

	a.Activities = workflow.NewActivities(a.Agent, a.Scraper, a.Finalizer,
		workflow.WithMinRateLimitBackoff(time.Duration(cfg.Scrape.MinRateLimitBackoffMillis)*time.Millisecond),
	)
	return a, nil
}

// EngineConfig 将配置转换为工作流引擎参数。
func EngineConfig(cfg *config.Config) workflow.Config {
	w := cfg.Workflow
	retry := func(attempts int) workflow.RetryPolicy {
		return workflow.RetryPolicy{
			InitialInterval: w.RetryInitial(),
			MaximumInterval: w.RetryMax(),
			MaximumAttempts: int32(attempts),
		}
	}
	return workflow.Config{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		TaskQueue: cfg.Temporal.TaskQueue,
		Options: workflow.Options{
			MaxRounds:        w.MaxRounds,
			QueryTimeout:     w.QueryTimeout(),
			ReasoningTimeout: w.ReasoningTimeout(),
			ToolTimeout:      w.ToolTimeout(),
			ScrapeRetry:      retry(w.ScrapeMaxAttempts),
			ReasoningRetry:   retry(w.ReasoningMaxAttempts),
		},
	}
}

// Close 逆序释放资源。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func buildSources(cfg config.ScrapeConfig) (*scrape.Sources, error) {
	list := make([]scrape.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		list = append(list, scrape.NewTWPSource(scrape.TWPConfig{
			Name:    src.Name,
			BaseURL: src.BaseURL,
			SiteID:  src.SiteID,
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		}))
	}
	return scrape.NewSources(list...)
}

func (a *App) buildCache(ctx context.Context, cfg config.ScrapeConfig) (scrape.Cache, error) {
	switch cfg.Cache.Driver {
	case "", "memory":
		return scrape.NewMemoryCache(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		a.onClose(client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("连接 Redis 缓存失败: %w", err)
		}
		return scrape.NewRedisCache(scrape.RedisCacheOptions{
			Client: client,
			Prefix: cfg.Cache.Prefix,
			TTL:    time.Duration(cfg.StaleSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的缓存驱动: %s", cfg.Cache.Driver)
	}
}

// BuildLLMClient 根据 provider 创建推理客户端，并按需加上限流。
func BuildLLMClient(cfg config.LLMConfig, sources []string) (llm.Client, error) {
	var (
		client llm.Client
		err    error
	)
	switch cfg.Provider {
	case "", "rules":
		client = rules.New(sources)
	case "openai":
		client, err = openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	case "anthropic":
		client, err = anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.Anthropic.APIKey,
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("未知的大模型提供方: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RateLimitRPM > 0 {
		client = llm.RateLimited(client, cfg.RateLimitRPM)
	}
	return client, nil
}

func buildKnowledge(cfg config.KnowledgeConfig) (knowledge.Provider, error) {
	if cfg.Source == "" || cfg.Source == "builtin" {
		return knowledge.NewStaticProvider(knowledge.Builtin(), cfg.MaxResults), nil
	}
	return knowledge.LoadStaticProvider(cfg.Source, cfg.MaxResults)
}

func (a *App) buildStore(ctx context.Context, cfg config.QueryStoreConfig) (query.Store, error) {
	var store query.Store
	switch cfg.Driver {
	case "", "memory":
		store = query.NewMemoryStore()
	case "mysql":
		s, err := query.OpenMySQLStore(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
	a.onClose(store.Close)
	return store, nil
}

func (a *App) buildPublisher(ctx context.Context, cfg config.PublisherConfig) (query.Publisher, error) {
	var (
		pub query.Publisher
		err error
	)
	switch cfg.Driver {
	case "", "none":
		pub = query.NopPublisher{}
	case "memory":
		pub = query.NewMemoryPublisher()
	case "redis":
		pub, err = query.NewRedisPublisher(ctx, query.RedisPublisherConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			List:     cfg.Redis.List,
			Channel:  cfg.Redis.Channel,
			MaxLen:   cfg.Redis.MaxLen,
		})
	case "rabbitmq":
		pub, err = query.NewRabbitMQPublisher(query.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Queue:    cfg.RabbitMQ.Queue,
			Durable:  cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的发布驱动: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	a.onClose(pub.Close)
	return pub, nil
}

func buildAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	sender := alerting.HTTPSender{}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{Sender: sender, URL: cfg.WebhookURL})
	}
	if cfg.SlackURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{Sender: sender, URL: cfg.SlackURL})
	}
	logger.Named("alerting").Debug("告警渠道已配置", slog.Int("channels", len(notifiers)))
	return alerting.NewFanout(notifiers...)
}

// InitLogging 根据配置初始化全局日志。
func InitLogging(cfg config.LoggingConfig) error {
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		},
	})
}
