package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRootCommandRejectsMissingConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "worker"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestRootCommandRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pnct.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  provider: mystery\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", path, "ask", "CSQU3054383"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"worker", "serve", "ask"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Fatalf("subcommand %s not registered: %v", name, err)
		}
	}
}
