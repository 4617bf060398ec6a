package transport

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

// stdioTransport talks MCP to a subprocess over its stdin/stdout. The
// subprocess is spawned per operation: FetchTools and CallTool each launch,
// initialize, operate, and tear down. Start only validates the command and
// flips the running flag; long-lived processes are not held across calls.
type stdioTransport struct {
	server *config.MCPServer

	mu      sync.Mutex
	running bool
	tools   []mcp.Tool
}

func newStdioTransport(server *config.MCPServer) *stdioTransport {
	return &stdioTransport{server: server}
}

func (t *stdioTransport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		logger.Warnw("stdio transport already running", "server", t.server.Name)
		return nil
	}
	if _, err := splitCommand(t.server.Command); err != nil {
		return fmt.Errorf("invalid command for server %s: %w", t.server.Name, err)
	}
	t.running = true
	logger.Infow("stdio transport started", "server", t.server.Name)
	return nil
}

func (t *stdioTransport) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false
	t.tools = nil
	logger.Infow("stdio transport stopped", "server", t.server.Name)
	return nil
}

func (t *stdioTransport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *stdioTransport) ensureStarted(ctx context.Context) error {
	if t.IsRunning() {
		return nil
	}
	return t.Start(ctx)
}

// session spawns the subprocess and completes the MCP handshake. The caller
// must Close the returned client.
func (t *stdioTransport) session(ctx context.Context) (*client.Client, error) {
	argv, err := splitCommand(t.server.Command)
	if err != nil {
		return nil, fmt.Errorf("invalid command for server %s: %w", t.server.Name, err)
	}
	argv = append(argv, t.server.Args...)

	c, err := client.NewStdioMCPClient(argv[0], os.Environ(), argv[1:]...)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn server %s: %w", t.server.Name, err)
	}

	if _, err := initializeClient(ctx, c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize server %s: %w", t.server.Name, err)
	}
	return c, nil
}

func (t *stdioTransport) FetchTools(ctx context.Context) ([]mcp.Tool, error) {
	if err := t.ensureStarted(ctx); err != nil {
		return nil, err
	}

	c, err := t.session(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Debugw("failed to close stdio client", "server", t.server.Name, "error", err)
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

func (t *stdioTransport) CallTool(ctx context.Context, params CallParams) (*mcp.CallToolResult, error) {
	if err := t.ensureStarted(ctx); err != nil {
		return nil, err
	}

	if !t.hasTool(params.Name) {
		return notFoundResult(params.Name, t.server.Name), nil
	}

	c, err := t.session(ctx)
	if err != nil {
		return callErrorResult(params.Name, err), nil
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Debugw("failed to close stdio client", "server", t.server.Name, "error", err)
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

// hasTool consults the cached tool list. An empty cache means FetchTools
// has not run yet; the call is allowed through rather than guessed at.
func (t *stdioTransport) hasTool(name string) bool {
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
