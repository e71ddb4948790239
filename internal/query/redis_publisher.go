package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisherConfig 描述 Redis 发布器的连接参数。
type RedisPublisherConfig struct {
	Address  string
	Password string
	DB       int
	// List 保存最近结果的列表键，消费方可以 BRPOP。
	List string
	// Channel 为空时不做 pub/sub 广播。
	Channel string
	// MaxLen 为列表保留的最大条数，0 表示不裁剪。
	MaxLen int64
}

// RedisPublisher 将结果写入 Redis 列表并可选地广播到频道。
type RedisPublisher struct {
	client  redis.UniversalClient
	list    string
	channel string
	maxLen  int64
	owned   bool
}

// NewRedisPublisher 建立连接并创建发布器。
func NewRedisPublisher(ctx context.Context, cfg RedisPublisherConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	p := NewRedisPublisherWithClient(client, cfg)
	p.owned = true
	return p, nil
}

// NewRedisPublisherWithClient 复用已有连接，Close 不会关闭该连接。
func NewRedisPublisherWithClient(client redis.UniversalClient, cfg RedisPublisherConfig) *RedisPublisher {
	list := cfg.List
	if list == "" {
		list = "pnct:results"
	}
	return &RedisPublisher{client: client, list: list, channel: cfg.Channel, maxLen: cfg.MaxLen}
}

// Publish 在一个 pipeline 中完成写列表、裁剪与广播。
func (p *RedisPublisher) Publish(ctx context.Context, result Result) error {
	body, err := encodeResult(result)
	if err != nil {
		return fmt.Errorf("编码查询结果失败: %w", err)
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, p.list, body)
		if p.maxLen > 0 {
			pipe.LTrim(ctx, p.list, 0, p.maxLen-1)
		}
		if p.channel != "" {
			pipe.Publish(ctx, p.channel, body)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Redis 发布结果失败: %w", err)
	}
	return nil
}

// Close 关闭自行创建的 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil || !p.owned {
		return nil
	}
	return p.client.Close()
}

var _ Publisher = (*RedisPublisher)(nil)
