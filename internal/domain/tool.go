package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a tool. ID matches the originating
// ToolCall.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// ToolContext carries per-turn state into tool executions: the working
// directory, the owning session, accessors for shared agent state, and an
// event emitter scoped to the current turn.
type ToolContext struct {
	WorkDir   string
	SessionID string

	// Emit publishes an event on the agent's bus. Nil when no bus is wired.
	Emit func(eventType EventType, payload any)

	Todos  *ItemList
	Phases *ItemList

	Sessions SessionStore
	Skills   SkillProvider

	// Extensions is a bag for plugin-installed helpers, keyed by plugin name.
	Extensions map[string]any
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage, tc *ToolContext) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup for the agent loop.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Schemas() []ToolSchema
}
