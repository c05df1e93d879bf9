package domain

import (
	"strings"
	"time"
)

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart types.
const (
	PartText  = "text"
	PartImage = "image"
)

// ContentPart is one typed segment of a message body. Text parts carry Text;
// image parts carry either inline base64 Data or a URL.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message represents a single turn in a conversation.
//
// A message is either a plain content message, an assistant message carrying
// ToolCalls, or a user-role message carrying only ToolResults (the outcomes
// of a prior tool-call set). ToolCalls and ToolResults never meaningfully
// appear together.
type Message struct {
	ID          string        `json:"id"`
	Role        string        `json:"role"`
	Content     string        `json:"content,omitempty"`
	Parts       []ContentPart `json:"parts,omitempty"`
	Name        string        `json:"name,omitempty"`
	ToolCalls   []ToolCall    `json:"tool_calls,omitempty"`
	ToolResults []ToolResult  `json:"tool_results,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Text returns the full textual content of the message: Content when set,
// otherwise the concatenation of its text parts.
func (m Message) Text() string {
	if m.Content != "" || len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

// ChatResponse is returned from an LLM provider.
type ChatResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Message   Message   `json:"message"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
