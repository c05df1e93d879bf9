package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"

	"forge-ai/internal/domain"
)

// RateLimitedTool wraps a Tool with a token-bucket rate limit. Calls over
// the limit come back as error-flagged results so the model can back off
// instead of the loop failing.
type RateLimitedTool struct {
	inner   domain.Tool
	limiter *rate.Limiter
}

// WithRateLimit wraps a tool to allow n calls per second with the given
// burst.
func WithRateLimit(t domain.Tool, perSecond float64, burst int) *RateLimitedTool {
	return &RateLimitedTool{
		inner:   t,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimitedTool) Name() string              { return r.inner.Name() }
func (r *RateLimitedTool) Description() string       { return r.inner.Description() }
func (r *RateLimitedTool) Schema() domain.ToolSchema { return r.inner.Schema() }

func (r *RateLimitedTool) Execute(ctx context.Context, params json.RawMessage, tc *domain.ToolContext) (*domain.ToolResult, error) {
	if !r.limiter.Allow() {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("tool %q rate limited, retry later", r.inner.Name()),
		}, nil
	}
	return r.inner.Execute(ctx, params, tc)
}
