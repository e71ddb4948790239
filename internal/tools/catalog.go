package tools

import (
	"encoding/json"

	"PNCT-Query/internal/scrape"
)

// 已注册的工具名称。
const (
	QueryContainer = "query_container"
	ListSources    = "list_sources"
)

// QueryContainerArgs 是 query_container 的参数。
type QueryContainerArgs struct {
	ContainerID  string `json:"container_id"`
	Intent       string `json:"intent,omitempty"`
	Source       string `json:"source,omitempty"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
	AcceptStale  bool   `json:"accept_stale,omitempty"`
}

// SourceList 是 list_sources 的返回值。
type SourceList struct {
	Default string   `json:"default"`
	Sources []string `json:"sources"`
}

// Catalog 构造默认工具表，source 参数的枚举取自已配置的数据源。
func Catalog(sources []string) (*Registry, error) {
	intents := make([]string, 0, len(scrape.Intents()))
	for _, in := range scrape.Intents() {
		intents = append(intents, string(in))
	}
	sourceSchema := map[string]any{
		"type":        "string",
		"description": "Terminal tracking source; defaults to the first configured source.",
	}
	if len(sources) > 0 {
		sourceSchema["enum"] = sources
	}
	queryContainer := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"container_id": map[string]any{
				"type":        "string",
				"pattern":     "^[A-Z]{3}[UJZ][0-9]{7}$",
				"description": "Canonical 11 character ISO 6346 container number.",
			},
			"intent": map[string]any{
				"type":        "string",
				"enum":        intents,
				"description": "Which part of the tracking record the user asked about.",
			},
			"source": sourceSchema,
			"force_refresh": map[string]any{
				"type":        "boolean",
				"description": "Skip the cache and always fetch from the source.",
			},
			"accept_stale": map[string]any{
				"type":        "boolean",
				"description": "Allow an older cached record when the source is unavailable.",
			},
		},
		"required":             []string{"container_id"},
		"additionalProperties": false,
	}
	listSources := map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}
	return NewRegistry(
		Definition{
			Name:        QueryContainer,
			Description: "Look up live terminal tracking data (status, location, availability, holds, last free day, ETA) for one container at one source.",
			InputSchema: mustJSON(queryContainer),
		},
		Definition{
			Name:        ListSources,
			Description: "List the terminal tracking sources this assistant can query.",
			InputSchema: mustJSON(listSources),
		},
	)
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
