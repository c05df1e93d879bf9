package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"forge-ai/internal/adapter/mcp"
	"forge-ai/internal/domain"
	"forge-ai/internal/usecase"
)

func TestRegisterBuiltinCommands(t *testing.T) {
	commands := usecase.NewCommandRegistry()
	manager := mcp.NewManager(nil, nil, nil, slog.Default())
	gate := usecase.NewPermissionGate(domain.ToolPermissionConfig{}, nil)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	registerBuiltinCommands(commands, manager, gate, nil, log)
	if got := len(commands.List()); got != 6 {
		t.Fatalf("commands = %d, want 6", got)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected warnings: %s", buf.String())
	}

	// A second pass collides on every name and must warn, not panic.
	registerBuiltinCommands(commands, manager, gate, nil, log)
	if got := len(commands.List()); got != 6 {
		t.Fatalf("commands after re-register = %d, want 6", got)
	}
	if !strings.Contains(buf.String(), "builtin command not registered") {
		t.Fatalf("missing duplicate warning, log: %s", buf.String())
	}
}
