package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const httpTimeout = 30 * time.Second

// headerRoundTripper injects fixed headers into every outbound request.
// Upstream MCP servers key protocol behavior off these.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())
	for k, v := range h.headers {
		reqClone.Header.Set(k, v)
	}
	return h.base.RoundTrip(reqClone)
}

func newHTTPClient(headers map[string]string) *http.Client {
	return &http.Client{
		Transport: &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: headers,
		},
		Timeout: httpTimeout,
	}
}

// initializeClient runs the MCP handshake and returns the server's
// advertised capabilities.
func initializeClient(ctx context.Context, c *client.Client) (*mcp.ServerCapabilities, error) {
	result, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "mcpgate",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &result.Capabilities, nil
}
