package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// MCPClient is the part of an MCP client connection the toolset uses.
// *client.Client satisfies it.
type MCPClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Connector opens an MCP client connection
type Connector func(ctx context.Context) (MCPClient, error)

// StdioServer spawns command as a child process and talks MCP over its
// stdin and stdout.
func StdioServer(command string, env []string, args ...string) Connector {
	return func(ctx context.Context) (MCPClient, error) {
		c, err := client.NewStdioMCPClient(command, env, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to start MCP server %s: %w", command, err)
		}
		return c, nil
	}
}

// MCPToolset exposes the tools of an MCP server. The connection is opened
// by Start and must be released with Close; a process that exits without
// calling Close leaks the server process.
type MCPToolset struct {
	connect Connector
	filter  func(name string) bool
	logger  zerolog.Logger

	mu     sync.Mutex
	client MCPClient
	tools  []Tool
}

// MCPToolsetConfig configures an MCPToolset
type MCPToolsetConfig struct {
	Connect Connector
	// Filter, when set, keeps only the tools it returns true for.
	Filter func(name string) bool
	Logger zerolog.Logger
}

// NewMCPToolset creates an unconnected toolset
func NewMCPToolset(cfg MCPToolsetConfig) *MCPToolset {
	return &MCPToolset{connect: cfg.Connect, filter: cfg.Filter, logger: cfg.Logger}
}

// Start connects, performs the MCP handshake and lists the server's tools
func (ts *MCPToolset) Start(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.client != nil {
		return fmt.Errorf("mcp toolset already started")
	}
	if ts.connect == nil {
		return fmt.Errorf("mcp toolset has no connector")
	}

	c, err := ts.connect(ctx)
	if err != nil {
		return err
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "agentlab", Version: "1.0.0"}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	info, err := c.Initialize(ctx, initRequest)
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to list MCP tools: %w", err)
	}

	tools := make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		if ts.filter != nil && !ts.filter(t.Name) {
			continue
		}
		tools = append(tools, &mcpTool{decl: declarationFromMCP(t), toolset: ts})
	}

	ts.client = c
	ts.tools = tools

	ts.logger.Info().
		Str("server", info.ServerInfo.Name).
		Str("version", info.ServerInfo.Version).
		Int("tools", len(tools)).
		Msg("MCP toolset connected")
	return nil
}

// Tools returns the server's tools. Start must have succeeded.
func (ts *MCPToolset) Tools() []Tool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]Tool(nil), ts.tools...)
}

// Close terminates the connection and the server process. It is safe to
// call more than once.
func (ts *MCPToolset) Close() error {
	ts.mu.Lock()
	c := ts.client
	ts.client = nil
	ts.tools = nil
	ts.mu.Unlock()

	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("failed to close MCP connection: %w", err)
	}
	ts.logger.Info().Msg("MCP toolset closed")
	return nil
}

func (ts *MCPToolset) call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	ts.mu.Lock()
	c := ts.client
	ts.mu.Unlock()
	if c == nil {
		return nil, fmt.Errorf("mcp toolset is closed")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.CallTool(ctx, req)
}

func declarationFromMCP(t mcp.Tool) *Declaration {
	schema := map[string]any{"type": "object"}
	if len(t.RawInputSchema) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(t.RawInputSchema, &raw); err == nil {
			schema = raw
		}
	} else {
		if t.InputSchema.Type != "" {
			schema["type"] = t.InputSchema.Type
		}
		props := t.InputSchema.Properties
		if props == nil {
			props = map[string]any{}
		}
		schema["properties"] = props
		if len(t.InputSchema.Required) > 0 {
			schema["required"] = t.InputSchema.Required
		}
	}

	description := t.Description
	if description == "" {
		description = t.Name
	}
	return &Declaration{Name: t.Name, Description: description, Schema: schema}
}

type mcpTool struct {
	decl    *Declaration
	toolset *MCPToolset
}

func (t *mcpTool) Declaration() *Declaration {
	return t.decl
}

func (t *mcpTool) Run(ctx context.Context, tc *Context, args map[string]any) (map[string]any, error) {
	res, err := t.toolset.call(ctx, t.decl.Name, args)
	if err != nil {
		return nil, fmt.Errorf("mcp tool %s failed: %w", t.decl.Name, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		return nil, fmt.Errorf("mcp tool %s returned an error: %s", t.decl.Name, text)
	}
	return map[string]any{"result": text}, nil
}

func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}
