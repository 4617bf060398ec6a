// Package transport implements the backend-facing connectors of the gateway.
// A Transport hides how a backend speaks MCP: templated REST calls, a stdio
// subprocess, or an upstream SSE / Streamable-HTTP MCP server. All of them
// expose the same FetchTools / CallTool surface to the runtime state.
package transport

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/template"
)

// CallParams carries one tool invocation. Request is the merged inbound
// request context consumed by HTTP template rendering; MCP-backed transports
// ignore it.
type CallParams struct {
	Name      string
	Arguments map[string]any
	Request   template.RequestContext
}

// Transport is a connector to one backend server. Start and Stop serialize
// under a per-transport lock; FetchTools and CallTool may run concurrently
// and start the transport on first use if needed.
type Transport interface {
	// Start establishes backend connectivity. Starting a running
	// transport is a no-op.
	Start(ctx context.Context) error

	// Stop tears the transport down and clears any cached tool list.
	Stop(ctx context.Context) error

	// IsRunning reports whether Start has succeeded since the last Stop.
	IsRunning() bool

	// FetchTools lists the backend's tools and caches them.
	FetchTools(ctx context.Context) ([]mcp.Tool, error)

	// CallTool invokes one tool. Tool-level failures come back as results
	// with IsError set; an error return means the transport itself failed.
	CallTool(ctx context.Context, params CallParams) (*mcp.CallToolResult, error)
}

// New creates the Transport matching the server's declared type.
func New(server *config.MCPServer) (Transport, error) {
	switch server.Type {
	case config.MCPServerTypeStdio:
		return newStdioTransport(server), nil
	case config.MCPServerTypeSSE:
		return newSSETransport(server), nil
	case config.MCPServerTypeStreamable:
		return newStreamableTransport(server), nil
	default:
		return nil, fmt.Errorf("unsupported server type %q", server.Type)
	}
}

// notFoundResult is the structured result returned when a tool is absent
// from the backend's cached tool list. The backend is not contacted.
func notFoundResult(tool, server string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("Tool %s not found on server %s", tool, server))
}

// callErrorResult wraps a backend failure as a tool-level error result so
// the dispatcher can serialize it instead of failing the JSON-RPC exchange.
func callErrorResult(tool string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("error calling tool %s: %v", tool, err))
}
