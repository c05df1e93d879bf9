package domain

// Capability server transports.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// DefaultServerTimeoutMs bounds connect and per-call time for a capability
// server when the config does not set one.
const DefaultServerTimeoutMs = 30000

// ServerConfig describes one capability (MCP) server, discriminated by
// Transport. The stdio variant requires Command; the sse variant requires URL.
type ServerConfig struct {
	Transport string            `json:"transport"          yaml:"transport"`
	Command   string            `json:"command,omitempty"  yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty"     yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"      yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty"      yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"  yaml:"headers,omitempty"`
	OAuth     *OAuthConfig      `json:"oauth,omitempty"    yaml:"oauth,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"  yaml:"enabled,omitempty"`
	TimeoutMs int               `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// IsEnabled reports whether the server should be connected (default true).
func (c ServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// EffectiveTimeoutMs returns TimeoutMs or the default.
func (c ServerConfig) EffectiveTimeoutMs() int {
	if c.TimeoutMs > 0 {
		return c.TimeoutMs
	}
	return DefaultServerTimeoutMs
}

// McpTool is a tool discovered on a capability server. Name is the namespaced
// form exposed to the agent; BareName is the server-local name.
type McpTool struct {
	Server      string
	Name        string
	BareName    string
	Description string
	InputSchema []byte
}

// McpResource is a resource discovered on a capability server.
type McpResource struct {
	Server      string
	URI         string
	Name        string
	Description string
	MimeType    string
}

// McpPrompt is a prompt template discovered on a capability server.
type McpPrompt struct {
	Server      string
	Name        string
	BareName    string
	Description string
	Arguments   []string
}

// McpPromptResult is a rendered prompt template.
type McpPromptResult struct {
	Description string
	Messages    []Message
}
