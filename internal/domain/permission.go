package domain

import "context"

// PermissionDecision is the outcome of evaluating the permission policy for
// a tool name.
type PermissionDecision string

const (
	PermissionAllow PermissionDecision = "allow"
	PermissionDeny  PermissionDecision = "deny"
	PermissionAsk   PermissionDecision = "ask"
)

// ApprovalResponse is the answer an interactive confirmation returns for an
// "ask" decision.
type ApprovalResponse string

const (
	ApprovalAllowOnce   ApprovalResponse = "allow_once"
	ApprovalAllowAlways ApprovalResponse = "allow_always"
	ApprovalDeny        ApprovalResponse = "deny"
)

// PermissionRequestFunc resolves an "ask" decision interactively. A nil
// callback means ask resolves to deny.
type PermissionRequestFunc func(ctx context.Context, call ToolCall) (ApprovalResponse, error)

// ToolPermissionConfig is the static permission policy. Patterns support
// exact match, a trailing wildcard ("prefix*"), a leading wildcard
// ("*suffix"), and a bare "*" matching everything.
type ToolPermissionConfig struct {
	AllowAll    bool     `json:"allow_all"     yaml:"allow_all"`
	AlwaysAllow []string `json:"always_allow"  yaml:"always_allow"`
	AlwaysDeny  []string `json:"always_deny"   yaml:"always_deny"`
}
