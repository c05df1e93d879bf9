package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIncludesMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "servers.yaml", `
mcp:
  servers:
    github:
      transport: stdio
      command: "github-mcp"
`)
	main := writeConfig(t, dir, "config.yaml", `
includes:
  - servers.yaml
agent:
  model: "claude-sonnet"
`)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.MCP.Servers["github"]; !ok {
		t.Error("included server not merged")
	}
	if cfg.Agent.Model != "claude-sonnet" {
		t.Errorf("Model = %q", cfg.Agent.Model)
	}
}

func TestIncludesMainTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
agent:
  max_iterations: 99
  model: "base-model"
`)
	main := writeConfig(t, dir, "config.yaml", `
includes:
  - base.yaml
agent:
  model: "main-model"
`)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "main-model" {
		t.Errorf("Model = %q, want main-model", cfg.Agent.Model)
	}
	if cfg.Agent.MaxIterations != 99 {
		t.Errorf("MaxIterations = %d, want 99 from include", cfg.Agent.MaxIterations)
	}
}

func TestIncludesGlob(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "10-a.yaml", "agent:\n  model: \"a\"\n")
	writeConfig(t, dir, "20-b.yaml", "agent:\n  workdir: \"/work\"\n")
	main := writeConfig(t, dir, "config.yaml", `
includes:
  - "*-?.yaml"
`)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "a" {
		t.Errorf("Model = %q", cfg.Agent.Model)
	}
	if cfg.Agent.WorkDir != "/work" {
		t.Errorf("WorkDir = %q", cfg.Agent.WorkDir)
	}
}

func TestIncludesCircularDetected(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "includes:\n  - b.yaml\n")
	writeConfig(t, dir, "b.yaml", "includes:\n  - a.yaml\n")
	main := writeConfig(t, dir, "config.yaml", "includes:\n  - a.yaml\n")

	if _, err := Load(main); err == nil {
		t.Fatal("expected circular include error")
	}
}

func TestIncludesEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "config.yaml", "includes:\n  - ../outside.yaml\n")

	if _, err := Load(main); err == nil {
		t.Fatal("expected path escape error")
	}
}

func TestIncludesMissingLiteralFails(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "config.yaml", "includes:\n  - missing.yaml\n")

	if _, err := Load(main); err == nil {
		t.Fatal("expected error for missing include")
	}
}
