package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	if err := Init(Config{Level: "debug", OutputPaths: []string{out}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	Named("scrape").Info("fetched", "container_id", "CSQU3054383")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"component":"scrape"`) || !strings.Contains(text, `"container_id":"CSQU3054383"`) {
		t.Fatalf("unexpected log output: %s", text)
	}
}

func TestAuditLoggerUsesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	audit := filepath.Join(dir, "audit", "audit.log")
	if err := Init(Config{Format: "text", OutputPaths: []string{"stderr"}, Audit: AuditConfig{Enabled: true, Path: audit}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	Audit().Warn("alert", "code", "SCRAPE_PARSE")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	data, err := os.ReadFile(audit)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(data), "SCRAPE_PARSE") {
		t.Fatalf("audit log missing entry: %s", data)
	}
}

func TestAuditRequiresPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error when audit path is empty")
	}
	if L() == nil {
		t.Fatalf("logger should still be usable")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARNING").String() != "WARN" || parseLevel("bogus").String() != "INFO" {
		t.Fatalf("unexpected level parsing")
	}
}
