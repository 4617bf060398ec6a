package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/template"
)

func newRenderer(t *testing.T) *template.Renderer {
	t.Helper()
	r, err := template.NewRenderer()
	require.NoError(t, err)
	return r
}

func httpConfig() *config.Config {
	return &config.Config{
		Name:   "demo",
		Tenant: "acme",
		Routers: []config.Router{
			{Prefix: "/acme/demo", Server: "rest"},
		},
		HTTPServers: []config.HTTPServer{
			{Name: "rest", URL: "http://upstream", Tools: []string{"echo", "ghost"}},
		},
		Tools: []config.Tool{
			{Name: "echo", Method: "POST", Path: "/echo", InputSchema: map[string]any{"type": "object"}},
		},
	}
}

func stdioConfig() *config.Config {
	return &config.Config{
		Name:   "local",
		Tenant: "acme",
		Routers: []config.Router{
			{Prefix: "/acme/local", Server: "proc"},
		},
		Servers: []config.MCPServer{
			{Name: "proc", Type: config.MCPServerTypeStdio, Command: "server --flag", Policy: config.PolicyOnDemand},
		},
	}
}

func TestBuildFromHTTPConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := BuildFrom(ctx, []*config.Config{httpConfig()}, nil, newRenderer(t))
	require.NoError(t, err)

	rt, ok := s.Runtime("/acme/demo")
	require.True(t, ok)
	assert.Equal(t, ProtoHTTP, rt.BackendProto)
	require.NotNil(t, rt.HTTPServer)
	assert.Equal(t, "rest", rt.HTTPServer.Name)
	assert.NotNil(t, rt.Transport)
	require.NotNil(t, rt.Router)
	assert.Equal(t, "/acme/demo", rt.Router.Prefix)

	// Only the resolvable tool makes it into the runtime; the dangling
	// reference is counted.
	assert.Len(t, rt.Tools, 1)
	require.Len(t, rt.ToolSchemas, 1)
	assert.Equal(t, "echo", rt.ToolSchemas[0].Name)

	m := s.Metrics()
	assert.Equal(t, 1, m.TotalTools)
	assert.Equal(t, 1, m.HTTPServers)
	assert.Equal(t, 1, m.MissingTools)
	assert.Equal(t, 0, m.IdleHTTPServers)
}

func TestBuildFromIdleServers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := &config.Config{
		Name:   "idle",
		Tenant: "acme",
		HTTPServers: []config.HTTPServer{
			{Name: "unbound", URL: "http://x"},
		},
		Servers: []config.MCPServer{
			{Name: "unbound-mcp", Type: config.MCPServerTypeStdio, Command: "x"},
		},
	}

	s, err := BuildFrom(ctx, []*config.Config{cfg}, nil, newRenderer(t))
	require.NoError(t, err)
	assert.Empty(t, s.Prefixes())
	assert.Equal(t, 1, s.Metrics().IdleHTTPServers)
	assert.Equal(t, 1, s.Metrics().IdleMCPServers)
}

func TestBuildFromRejectsOutOfTenantPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := httpConfig()
	cfg.Routers[0].Prefix = "/other/demo"

	s, err := BuildFrom(ctx, []*config.Config{cfg}, nil, newRenderer(t))
	require.NoError(t, err)
	assert.Empty(t, s.Prefixes(), "configs escaping their tenant prefix are dropped")
}

func TestBuildFromStdioRuntime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := BuildFrom(ctx, []*config.Config{stdioConfig()}, nil, newRenderer(t))
	require.NoError(t, err)

	rt, ok := s.Runtime("/acme/local")
	require.True(t, ok)
	assert.Equal(t, ProtoStdio, rt.BackendProto)
	require.NotNil(t, rt.MCPServer)
	assert.Equal(t, "proc", rt.MCPServer.Name)
	require.NotNil(t, rt.Transport)
	assert.False(t, rt.Transport.IsRunning(), "on_demand transports stay stopped")
	assert.Empty(t, rt.ToolSchemas, "mcp backends list tools live")
}

func TestBuildFromReusesUnchangedTransport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	renderer := newRenderer(t)

	s1, err := BuildFrom(ctx, []*config.Config{stdioConfig()}, nil, renderer)
	require.NoError(t, err)
	rt1, _ := s1.Runtime("/acme/local")

	// Same backend definition: transport carries over.
	s2, err := BuildFrom(ctx, []*config.Config{stdioConfig()}, s1, renderer)
	require.NoError(t, err)
	rt2, _ := s2.Runtime("/acme/local")
	assert.Same(t, rt1.Transport, rt2.Transport)

	// Changed command: fresh transport, and the replaced one is stopped.
	require.NoError(t, rt2.Transport.Start(ctx))
	changed := stdioConfig()
	changed.Servers[0].Command = "server --other"
	s3, err := BuildFrom(ctx, []*config.Config{changed}, s2, renderer)
	require.NoError(t, err)
	rt3, _ := s3.Runtime("/acme/local")
	assert.NotSame(t, rt2.Transport, rt3.Transport)
	assert.False(t, rt2.Transport.IsRunning())
}

func TestBuildFromStopsDroppedTransports(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	renderer := newRenderer(t)

	s1, err := BuildFrom(ctx, []*config.Config{stdioConfig()}, nil, renderer)
	require.NoError(t, err)
	rt1, _ := s1.Runtime("/acme/local")
	require.NoError(t, rt1.Transport.Start(ctx))
	require.True(t, rt1.Transport.IsRunning())

	// Rebuild without the prefix: the orphaned transport is stopped.
	s2, err := BuildFrom(ctx, nil, s1, renderer)
	require.NoError(t, err)
	assert.Empty(t, s2.Prefixes())
	assert.False(t, rt1.Transport.IsRunning())
}

func TestBuildFromOnStartPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := stdioConfig()
	cfg.Servers[0].Policy = config.PolicyOnStart

	s, err := BuildFrom(ctx, []*config.Config{cfg}, nil, newRenderer(t))
	require.NoError(t, err)
	rt, _ := s.Runtime("/acme/local")
	assert.True(t, rt.Transport.IsRunning(), "on_start transports are started during the build")
}

func TestBuildFromIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	renderer := newRenderer(t)
	configs := []*config.Config{httpConfig(), stdioConfig()}

	s1, err := BuildFrom(ctx, configs, nil, renderer)
	require.NoError(t, err)
	s2, err := BuildFrom(ctx, configs, s1, renderer)
	require.NoError(t, err)

	assert.Equal(t, s1.Prefixes(), s2.Prefixes())
	assert.Equal(t, s1.Metrics(), s2.Metrics())
}

func TestEmptyState(t *testing.T) {
	t.Parallel()

	s := Empty()
	_, ok := s.Runtime("/anything")
	assert.False(t, ok)
	assert.Empty(t, s.Prefixes())
}
