package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventUserMessage     EventType = "user.message"
	EventMessageStart    EventType = "message.start"
	EventMessageDelta    EventType = "message.delta"
	EventMessageComplete EventType = "message.complete"

	EventToolStart    EventType = "tool.start"
	EventToolComplete EventType = "tool.complete"

	EventCompactionStart    EventType = "compaction.start"
	EventCompactionComplete EventType = "compaction.complete"
	EventCompactionError    EventType = "compaction.error"

	EventCommandResult EventType = "command.result"
	EventError         EventType = "error"

	EventMCPServerConnected    EventType = "mcp.server.connected"
	EventMCPServerDisconnected EventType = "mcp.server.disconnected"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for runtime events.
// Implementations must deliver events to each subscriber in publish order:
// message.delta events for a message id are observed strictly between its
// message.start and message.complete.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type and returns an
	// unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	SubscribeAll(handler EventHandler) func()
	// Close prevents new publishes.
	Close()
}

// MessageEventPayload accompanies message.start/delta/complete events.
type MessageEventPayload struct {
	MessageID string     `json:"message_id"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
}

// ToolEventPayload accompanies tool.start/tool.complete events.
type ToolEventPayload struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// CompactionEventPayload accompanies compaction.* events.
type CompactionEventPayload struct {
	OriginalTokens   int     `json:"original_tokens,omitempty"`
	CompactedTokens  int     `json:"compacted_tokens,omitempty"`
	MessagesPruned   int     `json:"messages_pruned,omitempty"`
	CompressionRatio float64 `json:"compression_ratio,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// CommandResultPayload accompanies command.result events.
type CommandResultPayload struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

// MCPServerEventPayload accompanies mcp.server.* events.
type MCPServerEventPayload struct {
	Server string `json:"server"`
	Error  string `json:"error,omitempty"`
}
