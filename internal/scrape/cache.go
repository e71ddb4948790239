package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "PNCT-Query/internal/errors"
)

// Key 标识一条缓存：同一集装箱在不同数据源下分别缓存。
type Key struct {
	ContainerID string
	Source      string
}

func (k Key) String() string {
	return strings.ToLower(k.Source) + ":" + strings.ToUpper(k.ContainerID)
}

// Entry 保存上游原始记录以便按任意意图重新裁剪。
// Missing 表示数据源确认查无此箱，此时 Container 为空。
type Entry struct {
	Container Container `json:"container"`
	Missing   bool      `json:"missing,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (e Entry) record(containerID, source string, intent Intent) Record {
	if e.Missing {
		return NotFound(containerID, source, intent, e.FetchedAt)
	}
	return Project(&e.Container, containerID, source, intent, e.FetchedAt)
}

// Cache 是抓取结果的共享缓存，并发写入按最后写入为准。
type Cache interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Put(ctx context.Context, key Key, entry Entry) error
}

// Policy 控制缓存的有效窗口与可接受的陈旧上限。
type Policy struct {
	Validity     time.Duration
	StaleHorizon time.Duration
}

// DefaultPolicy 返回默认的缓存策略。
func DefaultPolicy() Policy {
	return Policy{Validity: 3 * time.Minute, StaleHorizon: 30 * time.Minute}
}

// MemoryCache 基于 sync.Map，读路径无锁。
type MemoryCache struct {
	entries sync.Map
}

// NewMemoryCache 创建进程内缓存。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Get 读取缓存。
func (c *MemoryCache) Get(_ context.Context, key Key) (Entry, bool, error) {
	v, ok := c.entries.Load(key.String())
	if !ok {
		return Entry{}, false, nil
	}
	return v.(Entry), true, nil
}

// Put 写入缓存。
func (c *MemoryCache) Put(_ context.Context, key Key, entry Entry) error {
	c.entries.Store(key.String(), entry)
	return nil
}

// RedisCache 将条目以 JSON 写入 Redis，TTL 取陈旧上限。
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisCacheOptions 描述 Redis 缓存配置。
type RedisCacheOptions struct {
	Client redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

// NewRedisCache 创建 Redis 缓存。
func NewRedisCache(opts RedisCacheOptions) (*RedisCache, error) {
	if opts.Client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "redis client 未配置")
	}
	if opts.Prefix == "" {
		opts.Prefix = "pnct:scrape:"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultPolicy().StaleHorizon
	}
	return &RedisCache{client: opts.Client, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

// Get 读取缓存，键不存在时返回 false。
func (c *RedisCache) Get(ctx context.Context, key Key) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取抓取缓存失败")
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "抓取缓存内容损坏")
	}
	return entry, true, nil
}

// Put 写入缓存。
func (c *RedisCache) Put(ctx context.Context, key Key, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化抓取缓存失败")
	}
	if err := c.client.Set(ctx, c.prefix+key.String(), raw, c.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入抓取缓存失败")
	}
	return nil
}
