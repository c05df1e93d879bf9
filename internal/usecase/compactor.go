package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"forge-ai/internal/domain"
)

const compactSystemPrompt = `You are a conversation summarizer. Given a conversation history, produce a concise summary that preserves:
- Key facts, decisions, and conclusions
- User preferences and requirements
- Important context needed to continue the conversation
- Any pending tasks or questions

Output ONLY the summary, no preamble. Be concise but comprehensive.`

// compactSummaryName identifies synthetic summary messages.
const compactSummaryName = "compaction_summary"

// CompactionConfig controls the sliding-window summarization policy.
type CompactionConfig struct {
	Enabled bool `yaml:"enabled"`
	// TokenThreshold is the fraction of the model's context window (0–1) at
	// which compaction is recommended.
	TokenThreshold float64 `yaml:"token_threshold"`
	// MessageThreshold recommends compaction once this many messages exist,
	// regardless of token count. 0 disables the count trigger.
	MessageThreshold int `yaml:"message_threshold"`
	// InceptionCount messages at the start are always kept.
	InceptionCount int `yaml:"inception_count"`
	// WorkingWindowCount messages at the end are always kept.
	WorkingWindowCount int `yaml:"working_window_count"`
	// Model optionally overrides the summarization model.
	Model string `yaml:"model,omitempty"`
}

// CompactionStats describes why compaction is recommended.
type CompactionStats struct {
	EstimatedTokens  int
	TokenLimit       int
	MessageCount     int
	CompactableCount int
}

// CompactionResult is the outcome of a compaction run.
type CompactionResult struct {
	Summary          string  `json:"summary"`
	OriginalTokens   int     `json:"original_tokens"`
	CompactedTokens  int     `json:"compacted_tokens"`
	MessagesPruned   int     `json:"messages_pruned"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// Compactor keeps a growing conversation within a context budget by
// replacing the compactable region — the messages strictly between the
// inception prefix and the working-window suffix — with one generated
// summary. It is stateless policy bound to one model and one provider.
type Compactor struct {
	llm     domain.LLMProvider
	model   string
	cfg     CompactionConfig
	counter TokenCounter
	logger  *slog.Logger
}

// NewCompactor creates a compactor. The provider supplies the context limit
// and runs the summarization call; counter estimates token usage (nil uses
// the character heuristic).
func NewCompactor(llm domain.LLMProvider, model string, cfg CompactionConfig, counter TokenCounter, logger *slog.Logger) *Compactor {
	if cfg.TokenThreshold <= 0 || cfg.TokenThreshold > 1 {
		cfg.TokenThreshold = 0.8
	}
	if cfg.InceptionCount < 0 {
		cfg.InceptionCount = 0
	}
	if cfg.WorkingWindowCount <= 0 {
		cfg.WorkingWindowCount = 10
	}
	// The count trigger must not re-trip on a freshly compacted
	// conversation of inception + summary + working-window messages.
	floor := cfg.InceptionCount + cfg.WorkingWindowCount + 2
	if cfg.MessageThreshold > 0 && cfg.MessageThreshold < floor {
		cfg.MessageThreshold = floor
	}
	if counter == nil {
		counter = NewHeuristicTokenCounter()
	}
	return &Compactor{
		llm:     llm,
		model:   model,
		cfg:     cfg,
		counter: counter,
		logger:  logger,
	}
}

// Enabled reports whether auto-compaction is on.
func (c *Compactor) Enabled() bool { return c.cfg.Enabled }

// compactableRegion returns the [lo, hi) bounds of the messages eligible for
// summarization.
func (c *Compactor) compactableRegion(n int) (int, int) {
	lo := c.cfg.InceptionCount
	hi := n - c.cfg.WorkingWindowCount
	if lo > n {
		lo = n
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// ShouldCompact returns stats when the conversation exceeds its budget and
// has at least one compactable message; nil otherwise. An empty compactable
// region always yields nil, regardless of token count.
func (c *Compactor) ShouldCompact(msgs []domain.Message) *CompactionStats {
	lo, hi := c.compactableRegion(len(msgs))
	if hi-lo < 1 {
		return nil
	}
	// A region holding nothing but prior summaries cannot shrink further;
	// re-summarizing it would burn an LLM call per turn without progress.
	if allSummaries(msgs[lo:hi]) {
		return nil
	}

	limit := int(c.cfg.TokenThreshold * float64(c.llm.ContextLimit()))
	tokens := c.counter.CountMessages(msgs)

	overTokens := limit > 0 && tokens > limit
	overCount := c.cfg.MessageThreshold > 0 && len(msgs) >= c.cfg.MessageThreshold
	if !overTokens && !overCount {
		return nil
	}

	return &CompactionStats{
		EstimatedTokens:  tokens,
		TokenLimit:       limit,
		MessageCount:     len(msgs),
		CompactableCount: hi - lo,
	}
}

// Compact summarizes the compactable region and returns before/after token
// counts. It does not mutate the input.
func (c *Compactor) Compact(ctx context.Context, msgs []domain.Message) (*CompactionResult, error) {
	lo, hi := c.compactableRegion(len(msgs))
	if hi-lo < 1 {
		return nil, domain.NewDomainError("Compactor.Compact", domain.ErrInvalidInput, "nothing to compact")
	}
	region := msgs[lo:hi]

	transcript := formatTranscript(region)
	if strings.TrimSpace(transcript) == "" {
		return nil, domain.NewDomainError("Compactor.Compact", domain.ErrInvalidInput, "empty transcript")
	}

	req := domain.ChatRequest{
		Model: c.model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: compactSystemPrompt},
			{Role: domain.RoleUser, Content: transcript},
		},
		Temperature: 0.3,
	}
	if c.cfg.Model != "" {
		req.Model = c.cfg.Model
	}

	resp, err := c.llm.Chat(ctx, req)
	if err != nil {
		return nil, domain.WrapOp("Compactor.Compact", err)
	}
	summary := strings.TrimSpace(resp.Message.Content)
	if summary == "" {
		return nil, domain.NewDomainError("Compactor.Compact", domain.ErrProviderError, "empty summary")
	}

	original := c.counter.CountMessages(msgs)
	compacted := c.counter.CountMessages(c.BuildCompactedMessages(msgs, summary))

	ratio := 0.0
	if original > 0 {
		ratio = 1 - float64(compacted)/float64(original)
	}

	c.logger.Info("conversation compacted",
		"original_tokens", original,
		"compacted_tokens", compacted,
		"messages_pruned", hi-lo,
	)

	return &CompactionResult{
		Summary:          summary,
		OriginalTokens:   original,
		CompactedTokens:  compacted,
		MessagesPruned:   hi - lo,
		CompressionRatio: ratio,
	}, nil
}

// BuildCompactedMessages reassembles the conversation as inception messages,
// one synthetic assistant message carrying the summary, then the working
// window.
func (c *Compactor) BuildCompactedMessages(msgs []domain.Message, summary string) []domain.Message {
	lo, hi := c.compactableRegion(len(msgs))
	if hi-lo < 1 {
		cp := make([]domain.Message, len(msgs))
		copy(cp, msgs)
		return cp
	}

	now := time.Now()
	out := make([]domain.Message, 0, lo+1+(len(msgs)-hi))
	out = append(out, msgs[:lo]...)
	out = append(out, domain.Message{
		ID:        NewULID(now),
		Role:      domain.RoleAssistant,
		Name:      compactSummaryName,
		Content:   summary,
		Timestamp: now,
	})
	out = append(out, msgs[hi:]...)
	return out
}

// allSummaries reports whether every message is a synthetic summary.
func allSummaries(msgs []domain.Message) bool {
	for _, msg := range msgs {
		if msg.Name != compactSummaryName {
			return false
		}
	}
	return true
}

// formatTranscript renders messages for the summarization prompt. Tool calls
// and results are included so the summary can preserve durable state.
func formatTranscript(msgs []domain.Message) string {
	var sb strings.Builder
	for _, msg := range msgs {
		if msg.Role == domain.RoleSystem {
			continue
		}
		if text := msg.Text(); text != "" {
			fmt.Fprintf(&sb, "%s: %s\n", msg.Role, text)
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&sb, "%s called tool %s(%s)\n", msg.Role, tc.Name, string(tc.Arguments))
		}
		for _, tr := range msg.ToolResults {
			fmt.Fprintf(&sb, "tool %s returned: %s\n", tr.Name, tr.Content)
		}
	}
	return sb.String()
}
