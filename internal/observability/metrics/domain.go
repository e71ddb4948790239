package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type counterFamily struct {
	name   string
	help   string
	labels []string
	values map[string]uint64
}

type domainCollector struct {
	mu       sync.Mutex
	families []*counterFamily
	byName   map[string]*counterFamily
}

var domainMetrics = newDomainCollector()

func newDomainCollector() *domainCollector {
	c := &domainCollector{byName: make(map[string]*counterFamily)}
	c.define("pnct_queries_total", "Finalized container queries by outcome.", "status", "flag")
	c.define("pnct_tool_calls_total", "Tool call results by tool and status.", "tool", "status")
	c.define("pnct_scrape_cache_total", "Scrape cache lookups by source and result.", "source", "result")
	c.define("pnct_scrape_fetch_total", "Outbound tracking source fetches by outcome.", "source", "outcome")
	c.define("pnct_reasoning_calls_total", "Reasoning service calls by provider and outcome.", "provider", "outcome")
	return c
}

func (c *domainCollector) define(name, help string, labels ...string) {
	f := &counterFamily{name: name, help: help, labels: labels, values: make(map[string]uint64)}
	c.families = append(c.families, f)
	c.byName[name] = f
}

func (c *domainCollector) inc(name string, values ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.byName[name]
	if !ok || len(values) != len(f.labels) {
		return
	}
	pairs := make([]string, len(values))
	for i, v := range values {
		pairs[i] = fmt.Sprintf("%s=\"%s\"", f.labels[i], escape(v))
	}
	f.values[strings.Join(pairs, ",")]++
}

func (c *domainCollector) value(name string, values ...string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.byName[name]
	if !ok || len(values) != len(f.labels) {
		return 0
	}
	pairs := make([]string, len(values))
	for i, v := range values {
		pairs[i] = fmt.Sprintf("%s=\"%s\"", f.labels[i], escape(v))
	}
	return f.values[strings.Join(pairs, ",")]
}

func (c *domainCollector) render(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.families {
		fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", f.name, f.help, f.name)
		keys := make([]string, 0, len(f.values))
		for k := range f.values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "%s{%s} %d\n", f.name, k, f.values[k])
		}
	}
}

// ObserveQuery 记录一次查询的终态。flag 取值 none / incomplete / timed_out / unidentified / error。
func ObserveQuery(status, flag string) {
	domainMetrics.inc("pnct_queries_total", status, flag)
}

// ObserveToolCall 记录一次工具调用结果。
func ObserveToolCall(tool, status string) {
	domainMetrics.inc("pnct_tool_calls_total", tool, status)
}

// ObserveCache 记录缓存命中情况，result 取值 hit / miss / stale。
func ObserveCache(source, result string) {
	domainMetrics.inc("pnct_scrape_cache_total", source, result)
}

// ObserveFetch 记录一次对外抓取。
func ObserveFetch(source, outcome string) {
	domainMetrics.inc("pnct_scrape_fetch_total", source, outcome)
}

// ObserveReasoning 记录一次推理服务调用。
func ObserveReasoning(provider, outcome string) {
	domainMetrics.inc("pnct_reasoning_calls_total", provider, outcome)
}

// CounterValue 返回指定计数器当前值，主要用于测试。
func CounterValue(name string, labels ...string) uint64 {
	return domainMetrics.value(name, labels...)
}
