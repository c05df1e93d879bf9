package usecase

import (
	"context"
	"strings"
	"sync"

	"forge-ai/internal/domain"
)

// PermissionGate decides, per tool invocation, whether execution proceeds
// without confirmation, is refused, or defers to an interactive prompt.
//
// Decision precedence:
//
//	session deny > session allow > allowAll > static deny > static allow > ask
//
// The session-scoped sets are runtime overlays that outlive the static config
// until explicitly cleared.
type PermissionGate struct {
	mu           sync.RWMutex
	askMu        sync.Mutex
	cfg          domain.ToolPermissionConfig
	sessionAllow map[string]bool
	sessionDeny  map[string]bool
	request      domain.PermissionRequestFunc
}

// NewPermissionGate creates a gate from the static config. The request
// callback resolves "ask" decisions; nil means ask resolves to deny.
func NewPermissionGate(cfg domain.ToolPermissionConfig, request domain.PermissionRequestFunc) *PermissionGate {
	return &PermissionGate{
		cfg:          cfg,
		sessionAllow: make(map[string]bool),
		sessionDeny:  make(map[string]bool),
		request:      request,
	}
}

// GetPermissionDecision evaluates the policy for a tool name without side
// effects.
func (g *PermissionGate) GetPermissionDecision(toolName string) domain.PermissionDecision {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.sessionDeny[toolName] {
		return domain.PermissionDeny
	}
	if g.sessionAllow[toolName] {
		return domain.PermissionAllow
	}
	if g.cfg.AllowAll {
		return domain.PermissionAllow
	}
	if matchAny(g.cfg.AlwaysDeny, toolName) {
		return domain.PermissionDeny
	}
	if matchAny(g.cfg.AlwaysAllow, toolName) {
		return domain.PermissionAllow
	}
	return domain.PermissionAsk
}

// CheckPermission resolves a tool call to a boolean. Allow and deny resolve
// immediately; ask invokes the request callback. An allow_always answer
// records the tool in the session allow set so later calls skip the prompt.
// Ask prompts are serialized: tool calls execute concurrently, and the
// request callback typically reads one interactive input stream.
func (g *PermissionGate) CheckPermission(ctx context.Context, call domain.ToolCall) (bool, error) {
	switch g.GetPermissionDecision(call.Name) {
	case domain.PermissionAllow:
		return true, nil
	case domain.PermissionDeny:
		return false, nil
	}

	g.mu.RLock()
	request := g.request
	g.mu.RUnlock()

	if request == nil {
		return false, nil
	}

	g.askMu.Lock()
	defer g.askMu.Unlock()

	// An answer given while this call waited may have settled the decision.
	switch g.GetPermissionDecision(call.Name) {
	case domain.PermissionAllow:
		return true, nil
	case domain.PermissionDeny:
		return false, nil
	}

	resp, err := request(ctx, call)
	if err != nil {
		return false, domain.WrapOp("PermissionGate.CheckPermission", err)
	}
	switch resp {
	case domain.ApprovalAllowOnce:
		return true, nil
	case domain.ApprovalAllowAlways:
		g.AllowForSession(call.Name)
		return true, nil
	default:
		return false, nil
	}
}

// AllowForSession adds a tool name to the session allow overlay.
func (g *PermissionGate) AllowForSession(toolName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionAllow[toolName] = true
	delete(g.sessionDeny, toolName)
}

// DenyForSession adds a tool name to the session deny overlay.
func (g *PermissionGate) DenyForSession(toolName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionDeny[toolName] = true
	delete(g.sessionAllow, toolName)
}

// ClearSession drops both session overlays.
func (g *PermissionGate) ClearSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionAllow = make(map[string]bool)
	g.sessionDeny = make(map[string]bool)
}

// matchAny reports whether name matches any pattern in the list.
func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchPattern(p, name) {
			return true
		}
	}
	return false
}

// matchPattern supports exact names, "prefix*", "*suffix", and a bare "*".
func matchPattern(pattern, name string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	default:
		return pattern == name
	}
}
