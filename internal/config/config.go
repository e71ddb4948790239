package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath 指定配置文件路径的环境变量。
	EnvConfigPath = "PNCT_CONFIG"
	// DefaultPath 是未指定路径时使用的配置文件。
	DefaultPath = "configs/pnct.yaml"
)

// Config 描述 pnctd 在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Temporal  TemporalConfig  `json:"temporal" yaml:"temporal"`
	Workflow  WorkflowConfig  `json:"workflow" yaml:"workflow"`
	Scrape    ScrapeConfig    `json:"scrape" yaml:"scrape"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Publisher PublisherConfig `json:"publisher" yaml:"publisher"`
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`
	Alerting  AlertingConfig  `json:"alerting" yaml:"alerting"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// ServerConfig 控制 HTTP API 的监听地址。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Format  string      `json:"format" yaml:"format"`
	Outputs []string    `json:"outputs" yaml:"outputs"`
	Audit   AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 描述审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// TemporalConfig 描述 Temporal 服务端连接。
type TemporalConfig struct {
	HostPort  string `json:"host_port" yaml:"host_port"`
	Namespace string `json:"namespace" yaml:"namespace"`
	TaskQueue string `json:"task_queue" yaml:"task_queue"`
}

// WorkflowConfig 控制单次查询的轮次、超时与重试。
type WorkflowConfig struct {
	MaxRounds               int `json:"max_rounds" yaml:"max_rounds"`
	QueryTimeoutSeconds     int `json:"query_timeout_seconds" yaml:"query_timeout_seconds"`
	ReasoningTimeoutSeconds int `json:"reasoning_timeout_seconds" yaml:"reasoning_timeout_seconds"`
	ToolTimeoutSeconds      int `json:"tool_timeout_seconds" yaml:"tool_timeout_seconds"`
	RetryInitialSeconds     int `json:"retry_initial_seconds" yaml:"retry_initial_seconds"`
	RetryMaxSeconds         int `json:"retry_max_seconds" yaml:"retry_max_seconds"`
	ScrapeMaxAttempts       int `json:"scrape_max_attempts" yaml:"scrape_max_attempts"`
	ReasoningMaxAttempts    int `json:"reasoning_max_attempts" yaml:"reasoning_max_attempts"`
}

// ScrapeConfig 描述数据源与抓取缓存。
type ScrapeConfig struct {
	Cache                     CacheConfig    `json:"cache" yaml:"cache"`
	ValiditySeconds           int            `json:"validity_seconds" yaml:"validity_seconds"`
	StaleSeconds              int            `json:"stale_seconds" yaml:"stale_seconds"`
	MinRateLimitBackoffMillis int            `json:"min_rate_limit_backoff_ms" yaml:"min_rate_limit_backoff_ms"`
	RequestTimeoutSeconds     int            `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	Sources                   []SourceConfig `json:"sources" yaml:"sources"`
}

// CacheConfig 选择抓取缓存的实现。
type CacheConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	Address     string `json:"address" yaml:"address"`
	Password    string `json:"password" yaml:"password"`
	PasswordEnv string `json:"password_env" yaml:"password_env"`
	DB          int    `json:"db" yaml:"db"`
	Prefix      string `json:"prefix" yaml:"prefix"`
}

// SourceConfig 描述一个 TWP 平台码头数据源。
type SourceConfig struct {
	Name    string `json:"name" yaml:"name"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	SiteID  string `json:"site_id" yaml:"site_id"`
}

// LLMConfig 描述推理服务。
type LLMConfig struct {
	Provider       string          `json:"provider" yaml:"provider"`
	RateLimitRPM   int             `json:"rate_limit_rpm" yaml:"rate_limit_rpm"`
	TimeoutSeconds int             `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxTokens      int             `json:"max_tokens" yaml:"max_tokens"`
	OpenAI         OpenAIConfig    `json:"openai" yaml:"openai"`
	Anthropic      AnthropicConfig `json:"anthropic" yaml:"anthropic"`
}

// OpenAIConfig 描述兼容 OpenAI 的接口。
type OpenAIConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	Model     string `json:"model" yaml:"model"`
}

// AnthropicConfig 描述 Claude Messages API。
type AnthropicConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
	Model     string `json:"model" yaml:"model"`
}

// StorageConfig 描述查询结果存储。
type StorageConfig struct {
	QueryStore QueryStoreConfig `json:"query_store" yaml:"query_store"`
}

// QueryStoreConfig 支持 memory 与 mysql 两种实现。
type QueryStoreConfig struct {
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	DSNEnv                 string `json:"dsn_env" yaml:"dsn_env"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// PublisherConfig 描述最终结果的发布渠道。
type PublisherConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Redis    RedisPublisher `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisPublisher 描述 Redis 发布配置。
type RedisPublisher struct {
	Address     string `json:"address" yaml:"address"`
	Password    string `json:"password" yaml:"password"`
	PasswordEnv string `json:"password_env" yaml:"password_env"`
	DB          int    `json:"db" yaml:"db"`
	List        string `json:"list" yaml:"list"`
	Channel     string `json:"channel" yaml:"channel"`
	MaxLen      int64  `json:"max_len" yaml:"max_len"`
}

// RabbitMQConfig 描述 RabbitMQ 发布配置。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	URLEnv   string `json:"url_env" yaml:"url_env"`
	Exchange string `json:"exchange" yaml:"exchange"`
	Queue    string `json:"queue" yaml:"queue"`
	Durable  bool   `json:"durable" yaml:"durable"`
}

// KnowledgeConfig 描述补充给推理服务的知识卡片。
type KnowledgeConfig struct {
	Source     string `json:"source" yaml:"source"`
	MaxResults int    `json:"max_results" yaml:"max_results"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
	SlackURL   string `json:"slack_url" yaml:"slack_url"`
}

// MetricsConfig 描述独立的指标监听地址，为空时只在 API 服务上暴露 /metrics。
type MetricsConfig struct {
	Address string `json:"address" yaml:"address"`
}

// ResolvePath 依次使用命令行参数、PNCT_CONFIG 与默认路径。
func ResolvePath(flag string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 解析指定路径的配置文件，扩展名为 .yaml/.yml 时按 YAML 解析，否则按 JSON。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部使用默认值的配置，供没有配置文件的场景使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	cfg.resolveSecrets()
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Temporal.HostPort == "" {
		c.Temporal.HostPort = "localhost:7233"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
	if c.Temporal.TaskQueue == "" {
		c.Temporal.TaskQueue = "pnct-query"
	}

	w := &c.Workflow
	w.MaxRounds = positiveOr(w.MaxRounds, 5)
	w.QueryTimeoutSeconds = positiveOr(w.QueryTimeoutSeconds, 180)
	w.ReasoningTimeoutSeconds = positiveOr(w.ReasoningTimeoutSeconds, 60)
	w.ToolTimeoutSeconds = positiveOr(w.ToolTimeoutSeconds, 30)
	w.RetryInitialSeconds = positiveOr(w.RetryInitialSeconds, 1)
	w.RetryMaxSeconds = positiveOr(w.RetryMaxSeconds, 10)
	w.ScrapeMaxAttempts = positiveOr(w.ScrapeMaxAttempts, 3)
	w.ReasoningMaxAttempts = positiveOr(w.ReasoningMaxAttempts, 3)

	s := &c.Scrape
	if s.Cache.Driver == "" {
		s.Cache.Driver = "memory"
	}
	if s.Cache.Prefix == "" {
		s.Cache.Prefix = "pnct:scrape:"
	}
	s.ValiditySeconds = positiveOr(s.ValiditySeconds, 180)
	s.StaleSeconds = positiveOr(s.StaleSeconds, 1800)
	s.MinRateLimitBackoffMillis = positiveOr(s.MinRateLimitBackoffMillis, 2000)
	s.RequestTimeoutSeconds = positiveOr(s.RequestTimeoutSeconds, 30)
	if len(s.Sources) == 0 {
		s.Sources = []SourceConfig{{Name: "pnct"}}
	}
	for i := range s.Sources {
		s.Sources[i].Name = strings.ToLower(strings.TrimSpace(s.Sources[i].Name))
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "rules"
	}
	c.LLM.TimeoutSeconds = positiveOr(c.LLM.TimeoutSeconds, 45)
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Anthropic.APIKeyEnv == "" {
		c.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}

	if c.Storage.QueryStore.Driver == "" {
		c.Storage.QueryStore.Driver = "memory"
	}

	if c.Publisher.Driver == "" {
		c.Publisher.Driver = "none"
	}
	if c.Publisher.Redis.List == "" {
		c.Publisher.Redis.List = "pnct:results"
	}
	if c.Publisher.RabbitMQ.Queue == "" {
		c.Publisher.RabbitMQ.Queue = "pnct.results"
	}

	c.Knowledge.MaxResults = positiveOr(c.Knowledge.MaxResults, 3)
	if c.Knowledge.Source != "" && c.Knowledge.Source != "builtin" && !filepath.IsAbs(c.Knowledge.Source) {
		c.Knowledge.Source = filepath.Join(baseDir, c.Knowledge.Source)
	}
}

// resolveSecrets 读取 *_env 字段指向的环境变量，配置文件中直接填写的值优先。
func (c *Config) resolveSecrets() {
	fromEnv(&c.Scrape.Cache.Password, c.Scrape.Cache.PasswordEnv)
	fromEnv(&c.LLM.OpenAI.APIKey, c.LLM.OpenAI.APIKeyEnv)
	fromEnv(&c.LLM.Anthropic.APIKey, c.LLM.Anthropic.APIKeyEnv)
	fromEnv(&c.Storage.QueryStore.DSN, c.Storage.QueryStore.DSNEnv)
	fromEnv(&c.Publisher.Redis.Password, c.Publisher.Redis.PasswordEnv)
	fromEnv(&c.Publisher.RabbitMQ.URL, c.Publisher.RabbitMQ.URLEnv)
}

// Validate 检查枚举字段与必填项。
func (c *Config) Validate() error {
	var problems []string
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		problems = append(problems, fmt.Sprintf("%s 取值 %q 无效，可选 %s", field, value, strings.Join(allowed, "|")))
	}
	check("scrape.cache.driver", c.Scrape.Cache.Driver, "memory", "redis")
	check("llm.provider", c.LLM.Provider, "rules", "openai", "anthropic")
	check("storage.query_store.driver", c.Storage.QueryStore.Driver, "memory", "mysql")
	check("publisher.driver", c.Publisher.Driver, "none", "memory", "redis", "rabbitmq")

	if c.Scrape.Cache.Driver == "redis" && c.Scrape.Cache.Address == "" {
		problems = append(problems, "scrape.cache.address 不能为空")
	}
	if c.Storage.QueryStore.Driver == "mysql" && c.Storage.QueryStore.DSN == "" {
		problems = append(problems, "storage.query_store.dsn 不能为空")
	}
	if c.Publisher.Driver == "redis" && c.Publisher.Redis.Address == "" {
		problems = append(problems, "publisher.redis.address 不能为空")
	}
	if c.Publisher.Driver == "rabbitmq" && c.Publisher.RabbitMQ.URL == "" {
		problems = append(problems, "publisher.rabbitmq.url 不能为空")
	}
	seen := make(map[string]bool, len(c.Scrape.Sources))
	for _, src := range c.Scrape.Sources {
		if src.Name == "" {
			problems = append(problems, "scrape.sources 中存在未命名的数据源")
			continue
		}
		if seen[src.Name] {
			problems = append(problems, fmt.Sprintf("数据源 %s 重复", src.Name))
		}
		seen[src.Name] = true
	}
	if len(problems) > 0 {
		return fmt.Errorf("配置校验失败: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SourceNames 按配置顺序返回数据源名称，第一个为默认数据源。
func (s ScrapeConfig) SourceNames() []string {
	names := make([]string, 0, len(s.Sources))
	for _, src := range s.Sources {
		names = append(names, src.Name)
	}
	return names
}

// QueryTimeout 返回单次查询的总超时。
func (w WorkflowConfig) QueryTimeout() time.Duration { return seconds(w.QueryTimeoutSeconds) }

// ReasoningTimeout 返回单次推理活动的超时。
func (w WorkflowConfig) ReasoningTimeout() time.Duration { return seconds(w.ReasoningTimeoutSeconds) }

// ToolTimeout 返回单次工具调用的超时。
func (w WorkflowConfig) ToolTimeout() time.Duration { return seconds(w.ToolTimeoutSeconds) }

// RetryInitial 返回首次重试间隔。
func (w WorkflowConfig) RetryInitial() time.Duration { return seconds(w.RetryInitialSeconds) }

// RetryMax 返回最大重试间隔。
func (w WorkflowConfig) RetryMax() time.Duration { return seconds(w.RetryMaxSeconds) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func fromEnv(target *string, name string) {
	if *target != "" || name == "" {
		return
	}
	*target = strings.TrimSpace(os.Getenv(name))
}
