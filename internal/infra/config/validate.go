package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateCompaction(cfg, ve)
	validateMCP(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if cfg.Agent.LoopWindow <= 1 {
		ve.Add("agent.loop_window must be > 1")
	}
	if cfg.Agent.Provider == "" {
		ve.Add("agent.provider must be set")
	}
}

func validateCompaction(cfg *Config, ve *ValidationError) {
	c := cfg.Compaction
	if !c.Enabled {
		return
	}
	if c.TokenThreshold < 0 || c.TokenThreshold > 1 {
		ve.Add("compaction.token_threshold must be in (0, 1], got %v", c.TokenThreshold)
	}
	if c.InceptionCount < 0 {
		ve.Add("compaction.inception_count must be >= 0")
	}
	if c.WorkingWindowCount < 0 {
		ve.Add("compaction.working_window_count must be >= 0")
	}
	if c.MessageThreshold < 0 {
		ve.Add("compaction.message_threshold must be >= 0")
	}
}

func validateMCP(cfg *Config, ve *ValidationError) {
	for name, srv := range cfg.MCP.Servers {
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				ve.Add("mcp.servers.%s: stdio transport requires command", name)
			}
		case "sse":
			if srv.URL == "" {
				ve.Add("mcp.servers.%s: sse transport requires url", name)
			}
		case "":
			ve.Add("mcp.servers.%s: transport must be set", name)
		default:
			ve.Add("mcp.servers.%s: unknown transport %q (want stdio or sse)", name, srv.Transport)
		}
		if srv.OAuth != nil && srv.Transport != "sse" {
			ve.Add("mcp.servers.%s: oauth requires sse transport", name)
		}
		if srv.TimeoutMs < 0 {
			ve.Add("mcp.servers.%s: timeout_ms must be >= 0", name)
		}
	}
	if p := cfg.MCP.CallbackPort; p < 0 || p > 65535 {
		ve.Add("mcp.callback_port must be in [0, 65535], got %d", p)
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch cfg.Logger.Level {
	case "", "debug", "info", "warn", "error":
	default:
		ve.Add("logger.level %q invalid (want debug, info, warn, or error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q invalid (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q invalid (want noop or stdout)", cfg.Tracer.Exporter)
	}
}
