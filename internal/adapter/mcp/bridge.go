package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"forge-ai/internal/domain"
)

// ToolRegistrar is the slice of the tool registry the bridge needs.
type ToolRegistrar interface {
	Register(tool domain.Tool) error
	Unregister(name string)
}

// Bridge mirrors the manager's tool catalog into a tool registry so the
// agent can call federated capabilities like any local tool.
type Bridge struct {
	manager *Manager

	mu         sync.Mutex
	registered map[string]bool
}

// NewBridge creates a bridge over a manager.
func NewBridge(manager *Manager) *Bridge {
	return &Bridge{
		manager:    manager,
		registered: make(map[string]bool),
	}
}

// Tools returns the current catalog as executable agent tools.
func (b *Bridge) Tools() []domain.Tool {
	catalog := b.manager.Tools()
	out := make([]domain.Tool, 0, len(catalog))
	for _, t := range catalog {
		out = append(out, &bridgeTool{manager: b.manager, tool: t})
	}
	return out
}

// Sync reconciles the registry with the manager's catalog: newly discovered
// tools are registered, tools from removed servers are unregistered. Call it
// after AddServer, RemoveServer, or Reconnect.
func (b *Bridge) Sync(reg ToolRegistrar) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := make(map[string]bool)
	for _, t := range b.manager.Tools() {
		current[t.Name] = true
	}

	for name := range b.registered {
		if !current[name] {
			reg.Unregister(name)
			delete(b.registered, name)
		}
	}
	for _, t := range b.Tools() {
		if b.registered[t.Name()] {
			continue
		}
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
		b.registered[t.Name()] = true
	}
	return nil
}

// bridgeTool adapts one catalog entry to the agent tool interface.
type bridgeTool struct {
	manager *Manager
	tool    domain.McpTool
}

func (t *bridgeTool) Name() string { return t.tool.Name }

func (t *bridgeTool) Description() string {
	if t.tool.Description != "" {
		return t.tool.Description
	}
	return fmt.Sprintf("Tool %q on capability server %q", t.tool.BareName, t.tool.Server)
}

func (t *bridgeTool) Schema() domain.ToolSchema {
	params := json.RawMessage(t.tool.InputSchema)
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object"}`)
	}
	return domain.ToolSchema{
		Name:        t.tool.Name,
		Description: t.Description(),
		Parameters:  params,
	}
}

func (t *bridgeTool) Execute(ctx context.Context, params json.RawMessage, _ *domain.ToolContext) (*domain.ToolResult, error) {
	content, isErr, err := t.manager.CallTool(ctx, t.tool.Name, params)
	if err != nil {
		return &domain.ToolResult{
			Content: fmt.Sprintf("capability call failed: %v", err),
			IsError: true,
		}, nil
	}
	return &domain.ToolResult{Content: content, IsError: isErr}, nil
}
