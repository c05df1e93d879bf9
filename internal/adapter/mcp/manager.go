package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"forge-ai/internal/domain"
)

// serverConn is one live capability server: its config, its client, and the
// capabilities discovered on it.
type serverConn struct {
	name      string
	cfg       domain.ServerConfig
	client    Client
	tools     map[string]domain.McpTool // keyed by bare name
	resources []domain.McpResource
	prompts   map[string]domain.McpPrompt // keyed by bare name
}

// Manager federates capability servers behind one namespaced catalog. Tool
// and prompt names are exposed as "<server>_<bare>" so identically named
// capabilities on different servers never collide. One failing server never
// takes down the rest.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverConn

	factory ClientFactory
	auth    *OAuthManager // optional, nil = no OAuth support
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewManager creates an empty manager. A nil factory uses the production
// Connect; auth and bus may be nil.
func NewManager(factory ClientFactory, auth *OAuthManager, bus domain.EventBus, logger *slog.Logger) *Manager {
	if factory == nil {
		factory = Connect
	}
	return &Manager{
		servers: make(map[string]*serverConn),
		factory: factory,
		auth:    auth,
		bus:     bus,
		logger:  logger,
	}
}

// AddServer connects a named server, runs capability discovery, and adds its
// catalog. Disabled servers are skipped without error. A connect or
// discovery failure affects only this server.
func (m *Manager) AddServer(ctx context.Context, name string, cfg domain.ServerConfig) error {
	if name == "" {
		return domain.NewDomainError("Manager.AddServer", domain.ErrInvalidInput, "server name required")
	}
	if !cfg.IsEnabled() {
		return domain.NewDomainError("Manager.AddServer", domain.ErrServerDisabled, name)
	}

	m.mu.Lock()
	if _, exists := m.servers[name]; exists {
		m.mu.Unlock()
		return domain.NewDomainError("Manager.AddServer", domain.ErrDuplicate, name)
	}
	m.mu.Unlock()

	conn, err := m.connect(ctx, name, cfg)
	if err != nil {
		m.publishServerEvent(ctx, domain.EventMCPServerDisconnected, name, err)
		return err
	}

	m.mu.Lock()
	if _, exists := m.servers[name]; exists {
		// Another AddServer won the race while we were connecting.
		m.mu.Unlock()
		if cerr := conn.client.Close(); cerr != nil {
			m.logger.Warn("capability server close failed", "server", name, "error", cerr)
		}
		return domain.NewDomainError("Manager.AddServer", domain.ErrDuplicate, name)
	}
	m.servers[name] = conn
	m.mu.Unlock()

	m.logger.Info("capability server connected",
		"server", name,
		"transport", cfg.Transport,
		"tools", len(conn.tools),
		"resources", len(conn.resources),
		"prompts", len(conn.prompts),
	)
	m.publishServerEvent(ctx, domain.EventMCPServerConnected, name, nil)
	return nil
}

// RemoveServer closes a server connection and drops its catalog.
func (m *Manager) RemoveServer(ctx context.Context, name string) error {
	m.mu.Lock()
	conn, ok := m.servers[name]
	if ok {
		delete(m.servers, name)
	}
	m.mu.Unlock()

	if !ok {
		return domain.NewDomainError("Manager.RemoveServer", domain.ErrServerNotFound, name)
	}
	if err := conn.client.Close(); err != nil {
		m.logger.Warn("capability server close failed", "server", name, "error", err)
	}
	m.publishServerEvent(ctx, domain.EventMCPServerDisconnected, name, nil)
	return nil
}

// Reconnect tears down and re-establishes one server, refreshing its catalog.
func (m *Manager) Reconnect(ctx context.Context, name string) error {
	m.mu.RLock()
	conn, ok := m.servers[name]
	m.mu.RUnlock()
	if !ok {
		return domain.NewDomainError("Manager.Reconnect", domain.ErrServerNotFound, name)
	}

	cfg := conn.cfg
	if err := m.RemoveServer(ctx, name); err != nil {
		return err
	}
	return m.AddServer(ctx, name, cfg)
}

// Shutdown closes every server connection.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	conns := make([]*serverConn, 0, len(m.servers))
	for _, c := range m.servers {
		conns = append(conns, c)
	}
	m.servers = make(map[string]*serverConn)
	m.mu.Unlock()

	for _, conn := range conns {
		if err := conn.client.Close(); err != nil {
			m.logger.Warn("capability server close failed", "server", conn.name, "error", err)
		}
		m.publishServerEvent(ctx, domain.EventMCPServerDisconnected, conn.name, nil)
	}
}

// Servers returns the connected server names, sorted.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns the federated tool catalog under namespaced names, sorted.
func (m *Manager) Tools() []domain.McpTool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.McpTool
	for _, conn := range m.servers {
		for _, t := range conn.tools {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resources returns the federated resource catalog.
func (m *Manager) Resources() []domain.McpResource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.McpResource
	for _, conn := range m.servers {
		out = append(out, conn.resources...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].URI < out[j].URI
	})
	return out
}

// Prompts returns the federated prompt catalog under namespaced names.
func (m *Manager) Prompts() []domain.McpPrompt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.McpPrompt
	for _, conn := range m.servers {
		for _, p := range conn.prompts {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool resolves a namespaced tool name and invokes it on its server,
// bounded by the server's timeout.
func (m *Manager) CallTool(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	conn, tool, err := m.resolveTool(name)
	if err != nil {
		return "", false, err
	}

	var argMap map[string]any
	if len(args) > 0 && string(args) != "null" {
		if uErr := json.Unmarshal(args, &argMap); uErr != nil {
			return "", false, domain.NewDomainError("Manager.CallTool", domain.ErrInvalidInput, uErr.Error())
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool.BareName
	req.Params.Arguments = argMap

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(conn.cfg.EffectiveTimeoutMs())*time.Millisecond)
	defer cancel()

	result, err := conn.client.CallTool(callCtx, req)
	if err != nil {
		return "", false, domain.WrapOp(fmt.Sprintf("call %s on %s", tool.BareName, conn.name), err)
	}
	return flattenContent(result.Content), result.IsError, nil
}

// ReadResource reads a resource URI from a named server.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) (string, error) {
	m.mu.RLock()
	conn, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return "", domain.NewDomainError("Manager.ReadResource", domain.ErrServerNotFound, server)
	}

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(conn.cfg.EffectiveTimeoutMs())*time.Millisecond)
	defer cancel()

	result, err := conn.client.ReadResource(callCtx, req)
	if err != nil {
		return "", domain.NewDomainError("Manager.ReadResource", domain.ErrResourceNotFound,
			fmt.Sprintf("%s: %v", uri, err))
	}

	var parts []string
	for _, c := range result.Contents {
		switch v := c.(type) {
		case mcp.TextResourceContents:
			parts = append(parts, v.Text)
		case *mcp.TextResourceContents:
			parts = append(parts, v.Text)
		case mcp.BlobResourceContents:
			parts = append(parts, v.Blob)
		default:
			if data, mErr := json.Marshal(v); mErr == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}

// GetPrompt resolves a namespaced prompt name, renders it with the given
// arguments, and returns the resulting messages.
func (m *Manager) GetPrompt(ctx context.Context, name string, args map[string]string) (*domain.McpPromptResult, error) {
	m.mu.RLock()
	var conn *serverConn
	var prompt domain.McpPrompt
	for srvName, c := range m.servers {
		prefix := srvName + "_"
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if p, ok := c.prompts[strings.TrimPrefix(name, prefix)]; ok {
			if conn == nil || len(srvName) > len(conn.name) {
				conn, prompt = c, p
			}
		}
	}
	m.mu.RUnlock()

	if conn == nil {
		return nil, domain.NewDomainError("Manager.GetPrompt", domain.ErrPromptNotFound, name)
	}

	req := mcp.GetPromptRequest{}
	req.Params.Name = prompt.BareName
	req.Params.Arguments = args

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(conn.cfg.EffectiveTimeoutMs())*time.Millisecond)
	defer cancel()

	result, err := conn.client.GetPrompt(callCtx, req)
	if err != nil {
		return nil, domain.WrapOp(fmt.Sprintf("get prompt %s on %s", prompt.BareName, conn.name), err)
	}

	out := &domain.McpPromptResult{Description: result.Description}
	for _, pm := range result.Messages {
		role := domain.RoleUser
		if pm.Role == mcp.RoleAssistant {
			role = domain.RoleAssistant
		}
		out.Messages = append(out.Messages, domain.Message{
			Role:    role,
			Content: flattenContent([]mcp.Content{pm.Content}),
		})
	}
	return out, nil
}

// resolveTool maps a namespaced tool name to its server and catalog entry.
// When several server names could prefix the same tool name, the longest
// server name wins.
func (m *Manager) resolveTool(name string) (*serverConn, domain.McpTool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *serverConn
	var tool domain.McpTool
	for srvName, conn := range m.servers {
		prefix := srvName + "_"
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if t, ok := conn.tools[strings.TrimPrefix(name, prefix)]; ok {
			if found == nil || len(srvName) > len(found.name) {
				found, tool = conn, t
			}
		}
	}
	if found == nil {
		return nil, domain.McpTool{}, domain.NewDomainError("Manager.CallTool", domain.ErrToolNotFound, name)
	}
	return found, tool, nil
}

// connect builds the client and discovers the server's capabilities.
func (m *Manager) connect(ctx context.Context, name string, cfg domain.ServerConfig) (*serverConn, error) {
	effective := cfg
	if cfg.Transport == domain.TransportSSE && cfg.OAuth != nil && m.auth != nil {
		tokens, err := m.auth.GetValidTokens(ctx, name, cfg.OAuth)
		if err != nil {
			return nil, domain.WrapOp("oauth for "+name, err)
		}
		effective.Headers = mergeHeaders(cfg.Headers, AuthorizationHeader(tokens))
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.EffectiveTimeoutMs())*time.Millisecond)
	defer cancel()

	client, err := m.factory(connectCtx, name, effective)
	if err != nil {
		return nil, domain.WrapOp("connect "+name, err)
	}

	conn := &serverConn{
		name:    name,
		cfg:     cfg,
		client:  client,
		tools:   make(map[string]domain.McpTool),
		prompts: make(map[string]domain.McpPrompt),
	}
	if err := m.discover(connectCtx, conn); err != nil {
		client.Close()
		return nil, err
	}
	return conn, nil
}

// discover lists tools, resources, and prompts. Tools are mandatory;
// resource and prompt listing failures degrade to an empty catalog because
// many servers implement only tools.
func (m *Manager) discover(ctx context.Context, conn *serverConn) error {
	toolsRes, err := conn.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return domain.WrapOp("list tools on "+conn.name, err)
	}
	for _, t := range toolsRes.Tools {
		bare := sanitizeName(t.Name)
		schema, mErr := json.Marshal(t.InputSchema)
		if mErr != nil {
			schema = []byte(`{"type":"object"}`)
		}
		conn.tools[bare] = domain.McpTool{
			Server:      conn.name,
			Name:        conn.name + "_" + bare,
			BareName:    t.Name,
			Description: t.Description,
			InputSchema: schema,
		}
	}

	if res, rErr := conn.client.ListResources(ctx, mcp.ListResourcesRequest{}); rErr == nil {
		for _, r := range res.Resources {
			conn.resources = append(conn.resources, domain.McpResource{
				Server:      conn.name,
				URI:         r.URI,
				Name:        r.Name,
				Description: r.Description,
				MimeType:    r.MIMEType,
			})
		}
	} else {
		m.logger.Debug("resource listing unsupported", "server", conn.name, "error", rErr)
	}

	if res, pErr := conn.client.ListPrompts(ctx, mcp.ListPromptsRequest{}); pErr == nil {
		for _, p := range res.Prompts {
			bare := sanitizeName(p.Name)
			var argNames []string
			for _, a := range p.Arguments {
				argNames = append(argNames, a.Name)
			}
			conn.prompts[bare] = domain.McpPrompt{
				Server:      conn.name,
				Name:        conn.name + "_" + bare,
				BareName:    p.Name,
				Description: p.Description,
				Arguments:   argNames,
			}
		}
	} else {
		m.logger.Debug("prompt listing unsupported", "server", conn.name, "error", pErr)
	}

	return nil
}

func (m *Manager) publishServerEvent(ctx context.Context, typ domain.EventType, server string, err error) {
	if m.bus == nil {
		return
	}
	payload := domain.MCPServerEventPayload{Server: server}
	if err != nil {
		payload.Error = err.Error()
	}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return
	}
	m.bus.Publish(ctx, domain.Event{
		Type:      typ,
		Timestamp: time.Now(),
		Payload:   data,
	})
}

// flattenContent converts MCP content blocks to one string, joining text
// blocks and JSON-encoding anything else.
func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName maps arbitrary capability names onto [A-Za-z0-9_].
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// mergeHeaders copies base and overlays extra.
func mergeHeaders(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
