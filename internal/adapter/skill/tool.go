package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"forge-ai/internal/domain"
)

// Tool exposes loaded skills to the model: listing them and expanding one
// by name into its instruction template.
type Tool struct{}

// NewTool creates the skill tool. Skills come from the per-turn tool context.
func NewTool() *Tool { return &Tool{} }

func (t *Tool) Name() string { return "skill" }

func (t *Tool) Description() string {
	return "Look up reusable instruction skills. Use action \"list\" to see available skills, or \"get\" with a name to expand one."
}

func (t *Tool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["list", "get"]},
				"name": {"type": "string", "description": "Skill name, required for get"}
			},
			"required": ["action"]
		}`),
	}
}

func (t *Tool) Execute(_ context.Context, params json.RawMessage, tc *domain.ToolContext) (*domain.ToolResult, error) {
	if tc == nil || tc.Skills == nil {
		return &domain.ToolResult{Content: "no skills are loaded", IsError: true}, nil
	}

	var p struct {
		Action string `json:"action"`
		Name   string `json:"name"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &domain.ToolResult{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}

	switch p.Action {
	case "list":
		skills := tc.Skills.List()
		if len(skills) == 0 {
			return &domain.ToolResult{Content: "no skills are loaded"}, nil
		}
		var sb strings.Builder
		for _, s := range skills {
			fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
		}
		return &domain.ToolResult{Content: sb.String()}, nil
	case "get":
		s, err := tc.Skills.Get(p.Name)
		if err != nil {
			return &domain.ToolResult{Content: err.Error(), IsError: true}, nil
		}
		return &domain.ToolResult{Content: s.Template}, nil
	default:
		return &domain.ToolResult{Content: fmt.Sprintf("unknown action %q", p.Action), IsError: true}, nil
	}
}

var _ domain.Tool = (*Tool)(nil)
