package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

// streamableTransport talks MCP to an upstream server over Streamable-HTTP.
// It mirrors the SSE transport but advertises streaming support with the
// X-Streaming-Support header.
type streamableTransport struct {
	server *config.MCPServer

	mu      sync.Mutex
	running bool
	tools   []mcp.Tool
}

func newStreamableTransport(server *config.MCPServer) *streamableTransport {
	return &streamableTransport{server: server}
}

func (t *streamableTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		logger.Warnw("streamable transport already running", "server", t.server.Name)
		return nil
	}

	c, err := t.connect(ctx)
	if err != nil {
		return err
	}
	_ = c.Close()

	t.running = true
	logger.Infow("streamable transport started", "server", t.server.Name, "url", t.server.URL)
	return nil
}

func (t *streamableTransport) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false
	t.tools = nil
	logger.Infow("streamable transport stopped", "server", t.server.Name)
	return nil
}

func (t *streamableTransport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *streamableTransport) ensureStarted(ctx context.Context) error {
	if t.IsRunning() {
		return nil
	}
	return t.Start(ctx)
}

func (t *streamableTransport) connect(ctx context.Context) (*client.Client, error) {
	httpClient := newHTTPClient(map[string]string{
		"mcp-protocol-version": mcp.LATEST_PROTOCOL_VERSION,
		"X-Streaming-Support":  "true",
	})

	c, err := client.NewStreamableHttpClient(t.server.URL,
		mcptransport.WithHTTPTimeout(httpTimeout),
		mcptransport.WithHTTPBasicClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable client for server %s: %w", t.server.Name, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to server %s: %w", t.server.Name, err)
	}
	if _, err := initializeClient(ctx, c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize server %s: %w", t.server.Name, err)
	}
	return c, nil
}

func (t *streamableTransport) FetchTools(ctx context.Context) ([]mcp.Tool, error) {
	if err := t.ensureStarted(ctx); err != nil {
		return nil, err
	}

	c, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Debugw("failed to close streamable client", "server", t.server.Name, "error", err)
		}
	}()

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools from server %s: %w", t.server.Name, err)
	}

	t.mu.Lock()
	t.tools = result.Tools
	t.mu.Unlock()

	logger.Infow("fetched tools", "server", t.server.Name, "count", len(result.Tools))
	return result.Tools, nil
}

func (t *streamableTransport) CallTool(ctx context.Context, params CallParams) (*mcp.CallToolResult, error) {
	if err := t.ensureStarted(ctx); err != nil {
		return nil, err
	}

	if !t.hasTool(params.Name) {
		return notFoundResult(params.Name, t.server.Name), nil
	}

	c, err := t.connect(ctx)
	if err != nil {
		return callErrorResult(params.Name, err), nil
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Debugw("failed to close streamable client", "server", t.server.Name, "error", err)
		}
	}()

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      params.Name,
			Arguments: params.Arguments,
		},
	})
	if err != nil {
		logger.Errorw("tool call failed", "server", t.server.Name, "tool", params.Name, "error", err)
		return callErrorResult(params.Name, err), nil
	}

	logger.Infow("tool call succeeded", "server", t.server.Name, "tool", params.Name)
	return result, nil
}

func (t *streamableTransport) hasTool(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.tools) == 0 {
		return true
	}
	for _, tool := range t.tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}
