package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g. "anthropic", "openai").
	Name() string
	// ContextLimit returns the model context window size in tokens.
	ContextLimit() int
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
// A chunk carries incremental Content, one or more tool-call fragments, or a
// terminal Err. Prior chunks remain valid when Err arrives.
type StreamDelta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
	Err       error      `json:"-"`
}

// StreamingLLMProvider extends LLMProvider with streaming support.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	// Mid-stream failures are delivered as a final delta with Err set, after
	// which the channel is closed.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// ProviderRegistry abstracts named provider lookup so multiple agents can run
// isolated registries in one process.
type ProviderRegistry interface {
	Register(provider LLMProvider) error
	Get(name string) (LLMProvider, error)
	List() []string
}
