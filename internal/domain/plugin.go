package domain

import "context"

// Plugin bundles tools, providers, commands, and skill sources with lifecycle
// hooks. All fields except Name are optional. Registration is one-shot:
// registering the same name twice is a fatal error.
type Plugin struct {
	Name    string
	Version string

	Tools        []Tool
	Providers    []LLMProvider
	Commands     []Command
	SkillSources []SkillSource

	OnRegister     func(ctx context.Context) error
	OnBeforePrompt func(ctx context.Context, text string) (string, error)
	OnAfterPrompt  func(ctx context.Context, msg *Message) error
	OnShutdown     func(ctx context.Context) error
}

// PluginHost runs plugin hooks around a prompt, in registration order.
// Implemented by the plugin set; consumed by the agent loop.
type PluginHost interface {
	BeforePrompt(ctx context.Context, text string) (string, error)
	AfterPrompt(ctx context.Context, msg *Message) error
}
