package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forge-ai/internal/domain"
)

func serverWith(env, headers map[string]string) domain.ServerConfig {
	return domain.ServerConfig{
		Transport: "stdio",
		Command:   "srv",
		Env:       env,
		Headers:   headers,
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Agent.MaxIterations != 200 {
		t.Errorf("MaxIterations = %d, want 200", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.LoopWindow != 5 {
		t.Errorf("LoopWindow = %d, want 5", cfg.Agent.LoopWindow)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if !cfg.Compaction.Enabled {
		t.Error("Compaction.Enabled = false, want true")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load("/tmp/nonexistent-config-12345.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 200 {
		t.Errorf("expected defaults, got MaxIterations=%d", cfg.Agent.MaxIterations)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  provider: "anthropic"
  model: "claude-sonnet"
  max_iterations: 50
permissions:
  always_allow: ["read_*"]
  always_deny: ["shell"]
mcp:
  servers:
    github:
      transport: stdio
      command: "github-mcp"
      args: ["--stdio"]
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 50 {
		t.Errorf("MaxIterations = %d, want 50", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.Model != "claude-sonnet" {
		t.Errorf("Model = %q, want %q", cfg.Agent.Model, "claude-sonnet")
	}
	srv, ok := cfg.MCP.Servers["github"]
	if !ok {
		t.Fatal("github server missing")
	}
	if srv.Command != "github-mcp" {
		t.Errorf("Command = %q", srv.Command)
	}
	if len(cfg.Permissions.AlwaysDeny) != 1 || cfg.Permissions.AlwaysDeny[0] != "shell" {
		t.Errorf("AlwaysDeny = %v", cfg.Permissions.AlwaysDeny)
	}
	// Unset fields keep their defaults.
	if cfg.Agent.LoopWindow != 5 {
		t.Errorf("LoopWindow = %d, want default 5", cfg.Agent.LoopWindow)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FORGE_AGENT_PROVIDER", "openai")
	t.Setenv("FORGE_LOGGER_LEVEL", "debug")
	t.Setenv("FORGE_AGENT_MAX_ITERATIONS", "25")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Agent.Provider != "openai" {
		t.Errorf("Provider = %q, want %q", cfg.Agent.Provider, "openai")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Agent.MaxIterations != 25 {
		t.Errorf("MaxIterations = %d, want 25", cfg.Agent.MaxIterations)
	}
}

func TestServerEnvExpansion(t *testing.T) {
	t.Setenv("GH_TOKEN", "secret-123")

	cfg := Defaults()
	cfg.MCP.Servers["github"] = serverWith(map[string]string{"GITHUB_TOKEN": "${GH_TOKEN}"}, nil)
	ApplyEnvOverrides(cfg)

	if got := cfg.MCP.Servers["github"].Env["GITHUB_TOKEN"]; got != "secret-123" {
		t.Errorf("env not expanded, got %q", got)
	}
}

func TestInsecurePermissionsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  provider: x\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	// WriteFile's mode is narrowed by the umask; force 0666 on disk.
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error for 0666 config")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("hunter2", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if enc == "hunter2" {
		t.Fatal("ciphertext equals plaintext")
	}
	got, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("round trip = %q", got)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestLoadDecryptsSecrets(t *testing.T) {
	enc, err := EncryptValue("token-abc", "master-key")
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
mcp:
  servers:
    remote:
      transport: sse
      url: "https://mcp.example.com/sse"
      headers:
        Authorization: "enc:` + enc + `"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FORGE_CONFIG_KEY", "master-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.MCP.Servers["remote"].Headers["Authorization"]; got != "token-abc" {
		t.Errorf("Authorization = %q, want decrypted value", got)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.MaxIterations = 0
	cfg.Logger.Level = "loud"
	cfg.MCP.Servers["bad"] = domain.ServerConfig{Transport: "grpc"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("error type %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
	if !strings.Contains(ve.Error(), "max_iterations") {
		t.Errorf("missing max_iterations in %q", ve.Error())
	}
}
