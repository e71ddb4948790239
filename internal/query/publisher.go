package query

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Publisher 向下游广播已完成的查询结果。
// 同一结果可能因活动重试被发布多次，消费方应按 QueryID 去重。
type Publisher interface {
	Publish(ctx context.Context, result Result) error
	Close() error
}

// NopPublisher 丢弃所有结果，对应配置中的 none。
type NopPublisher struct{}

// Publish 实现 Publisher。
func (NopPublisher) Publish(context.Context, Result) error { return nil }

// Close 实现 Publisher。
func (NopPublisher) Close() error { return nil }

// MemoryPublisher 在内存中保存已发布的结果，主要用于测试。
type MemoryPublisher struct {
	mu      sync.Mutex
	results []Result
	closed  bool
	fail    error
}

// NewMemoryPublisher 创建内存发布器。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 记录结果。
func (p *MemoryPublisher) Publish(ctx context.Context, result Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("发布器已关闭")
	}
	if p.fail != nil {
		return p.fail
	}
	p.results = append(p.results, cloneResult(result))
	return nil
}

// FailWith 让后续发布返回指定错误，传入 nil 恢复正常。
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// Published 返回已发布结果的副本。
func (p *MemoryPublisher) Published() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.results))
	copy(out, p.results)
	return out
}

// Close 关闭发布器。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func encodeResult(result Result) ([]byte, error) {
	return json.Marshal(result)
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*MemoryPublisher)(nil)
)
