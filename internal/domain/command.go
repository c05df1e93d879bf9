package domain

import "context"

// CommandSigil prefixes user input that should be dispatched to the command
// registry instead of the model.
const CommandSigil = "/"

// CommandResult is what a command returns. A command either short-circuits
// the turn with Output, or rewrites the input and lets the turn continue.
type CommandResult struct {
	Output   string // terminal output; rendered and returned without a model call
	Rewrite  string // rewritten prompt text; continues through the agent loop
	Continue bool   // true when Rewrite should be fed to the model
}

// Command is a named “/command” dispatched ahead of the agent loop.
type Command struct {
	Name        string
	Description string
	Execute     func(ctx context.Context, args string, tc *ToolContext) (*CommandResult, error)
}
