package mcp

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"forge-ai/internal/domain"
)

// clientName identifies this runtime in the MCP initialize handshake.
const (
	clientName    = "forge-ai"
	clientVersion = "1.0.0"
)

// Client is the protocol surface the manager needs from one capability
// server connection.
type Client interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context, request mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ReadResource(ctx context.Context, request mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	ListPrompts(ctx context.Context, request mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	Close() error
}

// ClientFactory builds and initializes a client for one server config. The
// manager takes a factory so tests can substitute fakes.
type ClientFactory func(ctx context.Context, name string, cfg domain.ServerConfig) (Client, error)

// Connect is the production factory: it builds the transport the config
// names, starts it, and runs the initialize handshake.
func Connect(ctx context.Context, name string, cfg domain.ServerConfig) (Client, error) {
	var c Client
	var err error

	switch cfg.Transport {
	case domain.TransportStdio:
		if cfg.Command == "" {
			return nil, domain.NewDomainError("mcp.Connect", domain.ErrInvalidInput, "stdio server requires a command")
		}
		c, err = mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case domain.TransportSSE:
		if cfg.URL == "" {
			return nil, domain.NewDomainError("mcp.Connect", domain.ErrInvalidInput, "sse server requires a url")
		}
		var t *transport.SSE
		t, err = transport.NewSSE(cfg.URL, transport.WithHeaders(cfg.Headers))
		if err != nil {
			return nil, fmt.Errorf("create sse transport: %w", err)
		}
		sseClient := mcpclient.NewClient(t)
		if err = sseClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("start sse client: %w", err)
		}
		c = sseClient
	default:
		return nil, domain.NewDomainError("mcp.Connect", domain.ErrInvalidInput,
			fmt.Sprintf("unsupported transport %q", cfg.Transport))
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}

	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err = ic.Initialize(ctx, initReq); err != nil {
			c.Close()
			return nil, domain.WrapOp("initialize "+name, err)
		}
	}

	return c, nil
}

// envSlice converts an env map to KEY=VALUE form for process spawning.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
