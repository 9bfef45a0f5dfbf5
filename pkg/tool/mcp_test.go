package tool

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMCPServer() *server.MCPServer {
	s := server.NewMCPServer("listings", "0.1.0", server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool("search_listings",
		mcp.WithDescription("Search listings in a city"),
		mcp.WithString("location", mcp.Required(), mcp.Description("City name")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		loc, _ := req.GetArguments()["location"].(string)
		return mcp.NewToolResultText("3 listings in " + loc), nil
	})

	s.AddTool(mcp.NewTool("broken",
		mcp.WithDescription("Always fails"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("upstream unavailable"), nil
	})

	return s
}

func inProcess(s *server.MCPServer, closed *bool) Connector {
	return func(ctx context.Context) (MCPClient, error) {
		c, err := client.NewInProcessClient(s)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		return &trackingClient{Client: c, closed: closed}, nil
	}
}

type trackingClient struct {
	*client.Client
	closed *bool
}

func (c *trackingClient) Close() error {
	*c.closed = true
	return c.Client.Close()
}

func TestMCPToolsetLifecycle(t *testing.T) {
	ctx := context.Background()
	closed := false
	ts := NewMCPToolset(MCPToolsetConfig{Connect: inProcess(newTestMCPServer(), &closed), Logger: zerolog.Nop()})

	require.NoError(t, ts.Start(ctx))
	assert.Error(t, ts.Start(ctx), "second start must fail")

	tools := ts.Tools()
	require.Len(t, tools, 2)

	var search Tool
	for _, tl := range tools {
		if tl.Declaration().Name == "search_listings" {
			search = tl
		}
	}
	require.NotNil(t, search)
	assert.Equal(t, "Search listings in a city", search.Declaration().Description)
	schema := search.Declaration().JSONSchema()
	assert.Contains(t, schema["properties"], "location")
	assert.Equal(t, []string{"location"}, schema["required"])

	e := NewExecutor(ExecutorConfig{Logger: zerolog.Nop()})
	for _, tl := range tools {
		require.NoError(t, e.Register(tl))
	}

	res := e.Execute(ctx, NewContext("c1", "airbnb_agent", nil), call("search_listings", map[string]any{"location": "Lisbon"}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "3 listings in Lisbon", res.Output["result"])

	res = e.Execute(ctx, NewContext("c2", "airbnb_agent", nil), call("broken", map[string]any{}))
	assert.False(t, res.Success)
	assert.True(t, strings.Contains(res.Error, "upstream unavailable"))

	require.NoError(t, ts.Close())
	assert.True(t, closed)
	assert.Empty(t, ts.Tools())
	assert.NoError(t, ts.Close(), "close is idempotent")

	_, err := search.Run(ctx, NewContext("", "", nil), map[string]any{"location": "Porto"})
	assert.Error(t, err)
}

func TestMCPToolsetFilter(t *testing.T) {
	closed := false
	ts := NewMCPToolset(MCPToolsetConfig{
		Connect: inProcess(newTestMCPServer(), &closed),
		Filter:  func(name string) bool { return name != "broken" },
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, ts.Start(context.Background()))
	defer ts.Close()

	tools := ts.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "search_listings", tools[0].Declaration().Name)
}

func TestMCPToolsetWithoutConnector(t *testing.T) {
	ts := NewMCPToolset(MCPToolsetConfig{Logger: zerolog.Nop()})
	assert.Error(t, ts.Start(context.Background()))
}
