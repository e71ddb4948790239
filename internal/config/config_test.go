package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "pnct.yaml", `
server:
  address: ":9090"
workflow:
  max_rounds: 4
scrape:
  sources:
    - name: PNCT
    - name: apm
      site_id: APM_NJ
llm:
  provider: anthropic
  anthropic:
    api_key_env: TEST_PNCT_ANTHROPIC_KEY
knowledge:
  source: knowledge.yaml
`)
	t.Setenv("TEST_PNCT_ANTHROPIC_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Workflow.MaxRounds != 4 || cfg.Workflow.QueryTimeout() != 3*time.Minute || cfg.Workflow.ToolTimeout() != 30*time.Second {
		t.Fatalf("unexpected workflow config: %+v", cfg.Workflow)
	}
	if got := strings.Join(cfg.Scrape.SourceNames(), ","); got != "pnct,apm" {
		t.Fatalf("unexpected sources %q", got)
	}
	if cfg.Scrape.Cache.Driver != "memory" || cfg.Scrape.ValiditySeconds != 180 || cfg.Scrape.StaleSeconds != 1800 {
		t.Fatalf("unexpected scrape defaults: %+v", cfg.Scrape)
	}
	if cfg.LLM.Anthropic.APIKey != "sk-test" {
		t.Fatalf("expected api key from env, got %q", cfg.LLM.Anthropic.APIKey)
	}
	if cfg.Knowledge.Source != filepath.Join(filepath.Dir(path), "knowledge.yaml") {
		t.Fatalf("knowledge path not resolved: %q", cfg.Knowledge.Source)
	}
	if cfg.Temporal.TaskQueue != "pnct-query" || cfg.Publisher.Driver != "none" {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Temporal, cfg.Publisher)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "pnct.json", `{
  "storage": {"query_store": {"driver": "mysql", "dsn": "u:p@tcp(db:3306)/pnct"}},
  "publisher": {"driver": "redis", "redis": {"address": "redis:6379"}}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.QueryStore.Driver != "mysql" || cfg.Publisher.Redis.List != "pnct:results" {
		t.Fatalf("unexpected config: %+v %+v", cfg.Storage, cfg.Publisher)
	}
	if cfg.LLM.Provider != "rules" {
		t.Fatalf("expected rules provider by default, got %q", cfg.LLM.Provider)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
llm:
  provider: python_bridge
storage:
  query_store:
    driver: mysql
scrape:
  sources:
    - name: pnct
    - name: PNCT
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"llm.provider", "storage.query_store.dsn", "pnct 重复"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should mention %q", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Fatalf("expected default path, got %q", got)
	}
	t.Setenv(EnvConfigPath, "/etc/pnct.yaml")
	if got := ResolvePath(""); got != "/etc/pnct.yaml" {
		t.Fatalf("expected env path, got %q", got)
	}
	if got := ResolvePath("local.json"); got != "local.json" {
		t.Fatalf("flag must win, got %q", got)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Workflow.ReasoningMaxAttempts != 3 || cfg.Workflow.RetryMax() != 10*time.Second {
		t.Fatalf("unexpected workflow defaults: %+v", cfg.Workflow)
	}
}
