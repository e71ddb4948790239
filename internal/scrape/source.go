package scrape

import (
	"context"
	"fmt"
	"sort"
	"strings"

	xerrors "PNCT-Query/internal/errors"
)

// Source 抓取单个集装箱在某个码头系统中的原始记录。
// 查无此箱时返回 (nil, nil)；其他失败返回带错误码的 error。
type Source interface {
	Name() string
	Fetch(ctx context.Context, containerID string) (*Container, error)
}

// Sources 是按名称索引的静态数据源表，启动后只读。
type Sources struct {
	byName   map[string]Source
	fallback string
}

// NewSources 构造数据源表，第一个数据源作为默认值。
func NewSources(list ...Source) (*Sources, error) {
	if len(list) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "至少需要配置一个数据源")
	}
	s := &Sources{byName: make(map[string]Source, len(list))}
	for _, src := range list {
		if src == nil {
			continue
		}
		name := strings.ToLower(src.Name())
		if _, dup := s.byName[name]; dup {
			return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("数据源 %s 重复注册", name))
		}
		s.byName[name] = src
		if s.fallback == "" {
			s.fallback = name
		}
	}
	return s, nil
}

// Lookup 按名称查找数据源，空名称返回默认数据源。
func (s *Sources) Lookup(name string) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = s.fallback
	}
	src, ok := s.byName[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeScrapeUnknownSource, fmt.Sprintf("未知数据源 %q", name),
			xerrors.WithMetadata("source", name))
	}
	return src, nil
}

// Default 返回默认数据源名称。
func (s *Sources) Default() string { return s.fallback }

// Names 返回排序后的数据源名称，默认数据源排在首位。
func (s *Sources) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		if name != s.fallback {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{s.fallback}, names...)
}
