package usecase

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"forge-ai/internal/domain"
)

// TokenCounter estimates token usage for messages and text.
type TokenCounter interface {
	CountMessages(msgs []domain.Message) int
	CountText(text string) int
}

// charsPerToken is the estimation ratio used when no encoder is available:
// 4 characters ≈ 1 token.
const charsPerToken = 4

// HeuristicTokenCounter estimates tokens by character count. It sums text
// content, tool-call names and arguments, and tool-result text.
type HeuristicTokenCounter struct{}

// NewHeuristicTokenCounter creates the character-ratio counter.
func NewHeuristicTokenCounter() *HeuristicTokenCounter {
	return &HeuristicTokenCounter{}
}

func (c *HeuristicTokenCounter) CountText(text string) int {
	return len(text) / charsPerToken
}

func (c *HeuristicTokenCounter) CountMessages(msgs []domain.Message) int {
	return countMessages(msgs, c.CountText)
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding (e.g. "cl100k_base").
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) CountText(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c *TiktokenCounter) CountMessages(msgs []domain.Message) int {
	return countMessages(msgs, c.CountText)
}

// countMessages sums a per-text counter over everything that reaches the
// model: message text, tool-call names and arguments, tool-result output.
func countMessages(msgs []domain.Message, count func(string) int) int {
	total := 0
	for _, m := range msgs {
		total += count(m.Text())
		for _, tc := range m.ToolCalls {
			total += count(tc.Name)
			total += count(string(tc.Arguments))
		}
		for _, tr := range m.ToolResults {
			total += count(tr.Content)
		}
	}
	return total
}

// NewTokenCounter returns a tiktoken-backed counter when the encoding can be
// loaded, falling back to the character heuristic.
func NewTokenCounter(encoding string) TokenCounter {
	if encoding != "" {
		if tc, err := NewTiktokenCounter(encoding); err == nil {
			return tc
		}
	}
	return NewHeuristicTokenCounter()
}
