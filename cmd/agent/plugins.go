package main

import "forge-ai/internal/domain"

// builtinPlugins returns the plugins compiled into this binary. Provider
// integrations register here; distributions link their own list in.
func builtinPlugins() []domain.Plugin {
	return nil
}
