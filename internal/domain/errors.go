package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared across subsystems.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Sentinel errors for the runtime core.
var (
	ErrNoProvider       = fmt.Errorf("no llm provider configured")
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrToolNotFound     = fmt.Errorf("tool not found")
	ErrCommandNotFound  = fmt.Errorf("command not found")
	ErrMaxIterations    = fmt.Errorf("agent reached max iterations")
	ErrLoopDetected     = fmt.Errorf("agent loop detected: repeated identical tool calls")
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrContextOverflow  = fmt.Errorf("context window exceeded")

	// Capability federation errors.
	ErrServerNotFound   = fmt.Errorf("mcp server not found")
	ErrServerDisabled   = fmt.Errorf("mcp server disabled")
	ErrResourceNotFound = fmt.Errorf("mcp resource not found")
	ErrPromptNotFound   = fmt.Errorf("mcp prompt not found")

	// Authorization errors.
	ErrNoValidTokens = fmt.Errorf("no valid oauth tokens")
	ErrStateMismatch = fmt.Errorf("oauth state token mismatch")
	ErrAuthFlow      = fmt.Errorf("oauth authorization failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g. "Agent.Prompt")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
	CodeNoProvider       ErrorCode = "NO_PROVIDER"
	CodeProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"
	CodeToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	CodeCommandNotFound  ErrorCode = "COMMAND_NOT_FOUND"
	CodeMaxIterations    ErrorCode = "MAX_ITERATIONS"
	CodeLoopDetected     ErrorCode = "LOOP_DETECTED"
	CodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	CodeContextOverflow  ErrorCode = "CONTEXT_OVERFLOW"
	CodeServerNotFound   ErrorCode = "MCP_SERVER_NOT_FOUND"
	CodeServerDisabled   ErrorCode = "MCP_SERVER_DISABLED"
	CodeResourceNotFound ErrorCode = "MCP_RESOURCE_NOT_FOUND"
	CodePromptNotFound   ErrorCode = "MCP_PROMPT_NOT_FOUND"
	CodeNoValidTokens    ErrorCode = "NO_VALID_TOKENS"
	CodeStateMismatch    ErrorCode = "OAUTH_STATE_MISMATCH"
	CodeAuthFlow         ErrorCode = "OAUTH_FLOW_FAILED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrInvalidInput:     CodeInvalidInput,
	ErrPermissionDenied: CodePermissionDenied,
	ErrProviderError:    CodeProviderError,
	ErrNoProvider:       CodeNoProvider,
	ErrProviderNotFound: CodeProviderNotFound,
	ErrToolNotFound:     CodeToolNotFound,
	ErrCommandNotFound:  CodeCommandNotFound,
	ErrMaxIterations:    CodeMaxIterations,
	ErrLoopDetected:     CodeLoopDetected,
	ErrSessionNotFound:  CodeSessionNotFound,
	ErrContextOverflow:  CodeContextOverflow,
	ErrServerNotFound:   CodeServerNotFound,
	ErrServerDisabled:   CodeServerDisabled,
	ErrResourceNotFound: CodeResourceNotFound,
	ErrPromptNotFound:   CodePromptNotFound,
	ErrNoValidTokens:    CodeNoValidTokens,
	ErrStateMismatch:    CodeStateMismatch,
	ErrAuthFlow:         CodeAuthFlow,
}

// ErrorCodeOf returns the machine-parseable error code for the given error,
// unwrapping DomainError and walking the chain with errors.Is.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
