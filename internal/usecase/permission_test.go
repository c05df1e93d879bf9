package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"forge-ai/internal/domain"
)

func TestGetPermissionDecision(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.ToolPermissionConfig
		tool string
		want domain.PermissionDecision
	}{
		{
			name: "no rules means ask",
			tool: "read_file",
			want: domain.PermissionAsk,
		},
		{
			name: "allow all",
			cfg:  domain.ToolPermissionConfig{AllowAll: true},
			tool: "anything",
			want: domain.PermissionAllow,
		},
		{
			name: "exact allow",
			cfg:  domain.ToolPermissionConfig{AlwaysAllow: []string{"read_file"}},
			tool: "read_file",
			want: domain.PermissionAllow,
		},
		{
			name: "exact deny",
			cfg:  domain.ToolPermissionConfig{AlwaysDeny: []string{"shell"}},
			tool: "shell",
			want: domain.PermissionDeny,
		},
		{
			name: "deny wins when both match",
			cfg: domain.ToolPermissionConfig{
				AlwaysAllow: []string{"shell"},
				AlwaysDeny:  []string{"shell"},
			},
			tool: "shell",
			want: domain.PermissionDeny,
		},
		{
			name: "deny pattern beats allow all flag off",
			cfg: domain.ToolPermissionConfig{
				AlwaysAllow: []string{"*"},
				AlwaysDeny:  []string{"shell"},
			},
			tool: "shell",
			want: domain.PermissionDeny,
		},
		{
			name: "prefix glob",
			cfg:  domain.ToolPermissionConfig{AlwaysAllow: []string{"mcp_*"}},
			tool: "mcp_github_search",
			want: domain.PermissionAllow,
		},
		{
			name: "prefix glob non-match",
			cfg:  domain.ToolPermissionConfig{AlwaysAllow: []string{"mcp_*"}},
			tool: "shell",
			want: domain.PermissionAsk,
		},
		{
			name: "suffix glob",
			cfg:  domain.ToolPermissionConfig{AlwaysAllow: []string{"*_read"}},
			tool: "fs_read",
			want: domain.PermissionAllow,
		},
		{
			name: "bare star",
			cfg:  domain.ToolPermissionConfig{AlwaysAllow: []string{"*"}},
			tool: "whatever",
			want: domain.PermissionAllow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewPermissionGate(tt.cfg, nil)
			if got := g.GetPermissionDecision(tt.tool); got != tt.want {
				t.Errorf("decision = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionOverlays(t *testing.T) {
	g := NewPermissionGate(domain.ToolPermissionConfig{AlwaysDeny: []string{"shell"}}, nil)

	// Session allow overrides a static deny.
	g.AllowForSession("shell")
	if got := g.GetPermissionDecision("shell"); got != domain.PermissionAllow {
		t.Errorf("after AllowForSession: %q, want allow", got)
	}

	// Session deny overrides everything, including a session allow.
	g.DenyForSession("shell")
	if got := g.GetPermissionDecision("shell"); got != domain.PermissionDeny {
		t.Errorf("after DenyForSession: %q, want deny", got)
	}

	// Session deny also overrides allowAll.
	g2 := NewPermissionGate(domain.ToolPermissionConfig{AllowAll: true}, nil)
	g2.DenyForSession("shell")
	if got := g2.GetPermissionDecision("shell"); got != domain.PermissionDeny {
		t.Errorf("session deny under allowAll: %q, want deny", got)
	}

	// Clearing restores the static policy.
	g.ClearSession()
	if got := g.GetPermissionDecision("shell"); got != domain.PermissionDeny {
		t.Errorf("after ClearSession: %q, want static deny", got)
	}
}

func TestCheckPermissionAskCallback(t *testing.T) {
	var asked []string
	answer := domain.ApprovalAllowOnce
	request := func(_ context.Context, call domain.ToolCall) (domain.ApprovalResponse, error) {
		asked = append(asked, call.Name)
		return answer, nil
	}
	g := NewPermissionGate(domain.ToolPermissionConfig{}, request)
	call := domain.ToolCall{ID: "c1", Name: "shell"}

	ok, err := g.CheckPermission(context.Background(), call)
	if err != nil || !ok {
		t.Fatalf("allow_once: ok=%v err=%v", ok, err)
	}
	// allow_once does not persist: the next call asks again.
	if _, err := g.CheckPermission(context.Background(), call); err != nil {
		t.Fatal(err)
	}
	if len(asked) != 2 {
		t.Fatalf("asked %d times, want 2", len(asked))
	}

	// allow_always persists into the session overlay.
	answer = domain.ApprovalAllowAlways
	if ok, _ := g.CheckPermission(context.Background(), call); !ok {
		t.Fatal("allow_always must allow")
	}
	if ok, _ := g.CheckPermission(context.Background(), call); !ok {
		t.Fatal("subsequent call must be allowed without asking")
	}
	if len(asked) != 3 {
		t.Errorf("asked %d times, want 3", len(asked))
	}
}

func TestCheckPermissionAskSerialized(t *testing.T) {
	// Tool calls in one set run on separate goroutines; ask prompts must
	// reach the callback one at a time, and an answer that settles the
	// decision spares the callers still waiting.
	var inFlight, maxInFlight, asked int32
	request := func(_ context.Context, _ domain.ToolCall) (domain.ApprovalResponse, error) {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxInFlight) {
			atomic.StoreInt32(&maxInFlight, n)
		}
		atomic.AddInt32(&asked, 1)
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return domain.ApprovalAllowAlways, nil
	}
	g := NewPermissionGate(domain.ToolPermissionConfig{}, request)

	const workers = 4
	results := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := g.CheckPermission(context.Background(), domain.ToolCall{Name: "shell"})
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("max concurrent prompts = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&asked); got != 1 {
		t.Errorf("asked %d times, want 1 (allow_always settles the rest)", got)
	}
	for i, ok := range results {
		if !ok {
			t.Errorf("worker %d denied, want allowed", i)
		}
	}
}

func TestCheckPermissionAskDefaults(t *testing.T) {
	// Nil callback: ask resolves to deny.
	g := NewPermissionGate(domain.ToolPermissionConfig{}, nil)
	ok, err := g.CheckPermission(context.Background(), domain.ToolCall{Name: "shell"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("ask without a callback must deny")
	}

	// Callback error propagates as a deny with error.
	failing := func(context.Context, domain.ToolCall) (domain.ApprovalResponse, error) {
		return "", errors.New("ui unavailable")
	}
	g2 := NewPermissionGate(domain.ToolPermissionConfig{}, failing)
	ok, err = g2.CheckPermission(context.Background(), domain.ToolCall{Name: "shell"})
	if ok || err == nil {
		t.Errorf("ok=%v err=%v, want deny with error", ok, err)
	}

	// Explicit deny answer.
	denying := func(context.Context, domain.ToolCall) (domain.ApprovalResponse, error) {
		return domain.ApprovalDeny, nil
	}
	g3 := NewPermissionGate(domain.ToolPermissionConfig{}, denying)
	if ok, _ := g3.CheckPermission(context.Background(), domain.ToolCall{Name: "shell"}); ok {
		t.Error("explicit deny answer must deny")
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*", "anything", true},
		{"shell", "shell", true},
		{"shell", "shell2", false},
		{"mcp_*", "mcp_github_search", true},
		{"mcp_*", "mcp_", true},
		{"mcp_*", "shell", false},
		{"*_read", "fs_read", true},
		{"*_read", "fs_write", false},
	}
	for _, tt := range tests {
		if got := matchPattern(tt.pattern, tt.name); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}
