package tool

import (
	"context"
	"encoding/json"
	"testing"

	"forge-ai/internal/domain"
)

func TestWithSchemaValidation(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"count": {"type": "integer", "minimum": 1}
		},
		"required": ["count"]
	}`)
	wrapped, err := WithSchemaValidation(&echoTool{name: "counter", schema: schema})
	if err != nil {
		t.Fatalf("WithSchemaValidation failed: %v", err)
	}

	tests := []struct {
		name    string
		params  string
		isError bool
	}{
		{"valid", `{"count": 3}`, false},
		{"missing required", `{}`, true},
		{"wrong type", `{"count": "three"}`, true},
		{"below minimum", `{"count": 0}`, true},
		{"malformed json", `{count`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, execErr := wrapped.Execute(context.Background(), json.RawMessage(tt.params), nil)
			if execErr != nil {
				t.Fatalf("Execute failed: %v", execErr)
			}
			if res.IsError != tt.isError {
				t.Errorf("IsError = %v, want %v (%s)", res.IsError, tt.isError, res.Content)
			}
		})
	}
}

func TestWithSchemaValidationNoSchema(t *testing.T) {
	inner := &echoTool{name: "free"}
	wrapped, err := WithSchemaValidation(inner)
	if err != nil {
		t.Fatal(err)
	}
	// No schema means the tool passes through unwrapped.
	if wrapped != domain.Tool(inner) {
		t.Error("schemaless tool must not be wrapped")
	}
}

func TestWithSchemaValidationBadSchema(t *testing.T) {
	bad := &echoTool{name: "broken", schema: json.RawMessage(`{"type": 42}`)}
	if _, err := WithSchemaValidation(bad); err == nil {
		t.Error("uncompilable schema must fail")
	}
}

func TestWithRateLimit(t *testing.T) {
	limited := WithRateLimit(&echoTool{name: "burst"}, 1, 2)

	for i := 0; i < 2; i++ {
		res, err := limited.Execute(context.Background(), json.RawMessage(`{}`), nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.IsError {
			t.Fatalf("call %d rejected within burst: %s", i, res.Content)
		}
	}

	res, err := limited.Execute(context.Background(), json.RawMessage(`{}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("call over burst must be rate limited")
	}
}
