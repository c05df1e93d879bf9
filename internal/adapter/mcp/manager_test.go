package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"forge-ai/internal/domain"
)

// fakeClient is a scripted capability server.
type fakeClient struct {
	tools     []mcp.Tool
	prompts   []mcp.Prompt
	resources []mcp.Resource

	callErr    error
	lastCall   string
	lastArgs   map[string]any
	callResult string
	closed     bool
}

func (c *fakeClient) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: c.tools}, nil
}

func (c *fakeClient) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if c.callErr != nil {
		return nil, c.callErr
	}
	c.lastCall = req.Params.Name
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		c.lastArgs = args
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: c.callResult}},
	}, nil
}

func (c *fakeClient) ListResources(context.Context, mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error) {
	return &mcp.ListResourcesResult{Resources: c.resources}, nil
}

func (c *fakeClient) ReadResource(_ context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, Text: "resource body"},
	}}, nil
}

func (c *fakeClient) ListPrompts(context.Context, mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
	return &mcp.ListPromptsResult{Prompts: c.prompts}, nil
}

func (c *fakeClient) GetPrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "rendered " + req.Params.Name,
		Messages: []mcp.PromptMessage{
			{Role: mcp.RoleUser, Content: mcp.TextContent{Type: "text", Text: "do the thing"}},
		},
	}, nil
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func fixedFactory(clients map[string]*fakeClient) ClientFactory {
	return func(_ context.Context, name string, _ domain.ServerConfig) (Client, error) {
		c, ok := clients[name]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return c, nil
	}
}

func stdioConfig() domain.ServerConfig {
	return domain.ServerConfig{Transport: domain.TransportStdio, Command: "server-bin"}
}

func TestManagerNamespacing(t *testing.T) {
	github := &fakeClient{
		tools:      []mcp.Tool{{Name: "create_issue", Description: "opens an issue"}},
		callResult: "issue #42 created",
	}
	m := NewManager(fixedFactory(map[string]*fakeClient{"github": github}), nil, nil, slog.Default())

	if err := m.AddServer(context.Background(), "github", stdioConfig()); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}

	tools := m.Tools()
	if len(tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(tools))
	}
	if tools[0].Name != "github_create_issue" {
		t.Errorf("name = %q, want github_create_issue", tools[0].Name)
	}
	if tools[0].BareName != "create_issue" {
		t.Errorf("bare name = %q", tools[0].BareName)
	}

	content, isErr, err := m.CallTool(context.Background(), "github_create_issue", json.RawMessage(`{"title":"bug"}`))
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if isErr {
		t.Error("unexpected error flag")
	}
	if content != "issue #42 created" {
		t.Errorf("content = %q", content)
	}
	// The server sees the bare name, not the namespaced one.
	if github.lastCall != "create_issue" {
		t.Errorf("server received %q, want create_issue", github.lastCall)
	}
	if github.lastArgs["title"] != "bug" {
		t.Errorf("args = %v", github.lastArgs)
	}
}

func TestManagerLongestPrefixResolution(t *testing.T) {
	short := &fakeClient{tools: []mcp.Tool{{Name: "hub_search"}}, callResult: "from git"}
	long := &fakeClient{tools: []mcp.Tool{{Name: "search"}}, callResult: "from git_hub"}
	m := NewManager(fixedFactory(map[string]*fakeClient{"git": short, "git_hub": long}), nil, nil, slog.Default())

	for _, name := range []string{"git", "git_hub"} {
		if err := m.AddServer(context.Background(), name, stdioConfig()); err != nil {
			t.Fatalf("AddServer(%s) failed: %v", name, err)
		}
	}

	// "git_hub_search" matches both "git" + "hub_search" and
	// "git_hub" + "search"; the longer server name wins.
	content, _, err := m.CallTool(context.Background(), "git_hub_search", nil)
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if content != "from git_hub" {
		t.Errorf("content = %q, want longest-prefix server", content)
	}
	if long.lastCall != "search" {
		t.Errorf("server received %q, want search", long.lastCall)
	}
}

func TestManagerUnknownTool(t *testing.T) {
	m := NewManager(fixedFactory(nil), nil, nil, slog.Default())
	_, _, err := m.CallTool(context.Background(), "nowhere_tool", nil)
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
}

func TestManagerFailureIsolation(t *testing.T) {
	good := &fakeClient{tools: []mcp.Tool{{Name: "ping"}}, callResult: "pong"}
	m := NewManager(fixedFactory(map[string]*fakeClient{"good": good}), nil, nil, slog.Default())

	if err := m.AddServer(context.Background(), "good", stdioConfig()); err != nil {
		t.Fatalf("AddServer(good) failed: %v", err)
	}
	if err := m.AddServer(context.Background(), "bad", stdioConfig()); err == nil {
		t.Fatal("AddServer(bad) must fail")
	}

	// The failing server never affects the healthy one.
	if content, _, err := m.CallTool(context.Background(), "good_ping", nil); err != nil || content != "pong" {
		t.Errorf("good server unusable after bad AddServer: %q, %v", content, err)
	}
	if got := m.Servers(); len(got) != 1 || got[0] != "good" {
		t.Errorf("servers = %v", got)
	}
}

func TestManagerDisabledServer(t *testing.T) {
	m := NewManager(fixedFactory(nil), nil, nil, slog.Default())
	disabled := false
	cfg := stdioConfig()
	cfg.Enabled = &disabled

	err := m.AddServer(context.Background(), "off", cfg)
	if !errors.Is(err, domain.ErrServerDisabled) {
		t.Errorf("err = %v, want ErrServerDisabled", err)
	}
}

func TestManagerRemoveServer(t *testing.T) {
	c := &fakeClient{tools: []mcp.Tool{{Name: "ping"}}}
	m := NewManager(fixedFactory(map[string]*fakeClient{"srv": c}), nil, nil, slog.Default())

	if err := m.AddServer(context.Background(), "srv", stdioConfig()); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveServer(context.Background(), "srv"); err != nil {
		t.Fatalf("RemoveServer failed: %v", err)
	}
	if !c.closed {
		t.Error("client not closed")
	}
	if len(m.Tools()) != 0 {
		t.Error("catalog not dropped")
	}
	if err := m.RemoveServer(context.Background(), "srv"); !errors.Is(err, domain.ErrServerNotFound) {
		t.Errorf("err = %v, want ErrServerNotFound", err)
	}
}

func TestManagerConcurrentAddSameName(t *testing.T) {
	// Both calls pass the initial duplicate check and connect; only one
	// may land in the map and the loser's client must be closed.
	clients := make(chan *fakeClient, 2)
	var barrier sync.WaitGroup
	barrier.Add(2)
	factory := func(context.Context, string, domain.ServerConfig) (Client, error) {
		barrier.Done()
		barrier.Wait()
		c := &fakeClient{tools: []mcp.Tool{{Name: "ping"}}}
		clients <- c
		return c, nil
	}
	m := NewManager(factory, nil, nil, slog.Default())

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- m.AddServer(context.Background(), "srv", stdioConfig())
		}()
	}
	first, second := <-errs, <-errs
	if (first == nil) == (second == nil) {
		t.Fatalf("want exactly one success, got %v and %v", first, second)
	}
	for _, err := range []error{first, second} {
		if err != nil && !errors.Is(err, domain.ErrDuplicate) {
			t.Errorf("err = %v, want ErrDuplicate", err)
		}
	}

	a, b := <-clients, <-clients
	if a.closed == b.closed {
		t.Errorf("want exactly one client closed, got %v and %v", a.closed, b.closed)
	}
	if len(m.Servers()) != 1 {
		t.Errorf("servers = %d, want 1", len(m.Servers()))
	}
}

func TestManagerPromptsAndResources(t *testing.T) {
	c := &fakeClient{
		prompts:   []mcp.Prompt{{Name: "review", Description: "code review"}},
		resources: []mcp.Resource{{URI: "doc://readme", Name: "readme"}},
	}
	m := NewManager(fixedFactory(map[string]*fakeClient{"dev": c}), nil, nil, slog.Default())
	if err := m.AddServer(context.Background(), "dev", stdioConfig()); err != nil {
		t.Fatal(err)
	}

	prompts := m.Prompts()
	if len(prompts) != 1 || prompts[0].Name != "dev_review" {
		t.Fatalf("prompts = %+v", prompts)
	}

	res, err := m.GetPrompt(context.Background(), "dev_review", map[string]string{"pr": "7"})
	if err != nil {
		t.Fatalf("GetPrompt failed: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].Content != "do the thing" {
		t.Errorf("prompt result = %+v", res)
	}

	resources := m.Resources()
	if len(resources) != 1 || resources[0].URI != "doc://readme" {
		t.Fatalf("resources = %+v", resources)
	}
	body, err := m.ReadResource(context.Background(), "dev", "doc://readme")
	if err != nil {
		t.Fatalf("ReadResource failed: %v", err)
	}
	if body != "resource body" {
		t.Errorf("body = %q", body)
	}

	if _, err := m.GetPrompt(context.Background(), "dev_missing", nil); !errors.Is(err, domain.ErrPromptNotFound) {
		t.Errorf("err = %v, want ErrPromptNotFound", err)
	}
	if _, err := m.ReadResource(context.Background(), "nope", "doc://x"); !errors.Is(err, domain.ErrServerNotFound) {
		t.Errorf("err = %v, want ErrServerNotFound", err)
	}
}

// registrarStub records register/unregister calls.
type registrarStub struct {
	tools map[string]domain.Tool
}

func (r *registrarStub) Register(tool domain.Tool) error {
	if _, dup := r.tools[tool.Name()]; dup {
		return domain.ErrDuplicate
	}
	r.tools[tool.Name()] = tool
	return nil
}

func (r *registrarStub) Unregister(name string) { delete(r.tools, name) }

func TestBridgeSync(t *testing.T) {
	c := &fakeClient{tools: []mcp.Tool{{Name: "ping"}}, callResult: "pong"}
	m := NewManager(fixedFactory(map[string]*fakeClient{"srv": c}), nil, nil, slog.Default())
	if err := m.AddServer(context.Background(), "srv", stdioConfig()); err != nil {
		t.Fatal(err)
	}

	bridge := NewBridge(m)
	reg := &registrarStub{tools: make(map[string]domain.Tool)}
	if err := bridge.Sync(reg); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	tool, ok := reg.tools["srv_ping"]
	if !ok {
		t.Fatal("tool not registered")
	}
	res, err := tool.Execute(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Content != "pong" {
		t.Errorf("content = %q", res.Content)
	}

	// Removing the server and re-syncing drops the tool.
	if err := m.RemoveServer(context.Background(), "srv"); err != nil {
		t.Fatal(err)
	}
	if err := bridge.Sync(reg); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if _, still := reg.tools["srv_ping"]; still {
		t.Error("tool not unregistered after server removal")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"create_issue", "create_issue"},
		{"create-issue", "create_issue"},
		{"a.b/c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
