// Package state holds the gateway's runtime view of the configuration: one
// Runtime per URL prefix, bundling the router, the backend server, the
// allowed tool set, and the transport that reaches the backend. A State is
// immutable once built; configuration changes build a fresh State from the
// new config list and the old State, reusing transports whose backend
// definition did not change.
package state

import (
	"context"
	"slices"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/template"
	"github.com/mcpgate/mcpgate/pkg/transport"
)

// BackendProto tags how a runtime's backend is reached.
type BackendProto string

const (
	// ProtoHTTP is a REST backend driven by tool templates.
	ProtoHTTP BackendProto = "http"
	// ProtoSSE is an upstream MCP server over HTTP+SSE.
	ProtoSSE BackendProto = "sse"
	// ProtoStreamable is an upstream MCP server over Streamable-HTTP.
	ProtoStreamable BackendProto = "streamable"
	// ProtoStdio is an MCP server subprocess.
	ProtoStdio BackendProto = "stdio"
)

// Runtime is everything the dispatcher needs to serve one URL prefix.
// Exactly one of HTTPServer or MCPServer is set.
type Runtime struct {
	BackendProto BackendProto
	Router       *config.Router
	HTTPServer   *config.HTTPServer
	MCPServer    *config.MCPServer

	// Tools and ToolSchemas are populated for HTTP backends only; MCP
	// backends answer tools/list live through their transport.
	Tools       map[string]*config.Tool
	ToolSchemas []mcp.Tool

	Transport transport.Transport
}

// State is an immutable snapshot of all runtimes.
type State struct {
	configs []*config.Config
	runtime map[string]*Runtime
	metrics Metrics
}

// Empty returns a State with no runtimes, used before the first load and
// as the fallback when loading fails outright.
func Empty() *State {
	return &State{runtime: make(map[string]*Runtime)}
}

// Runtime resolves the runtime for a prefix.
func (s *State) Runtime(prefix string) (*Runtime, bool) {
	rt, ok := s.runtime[prefix]
	return rt, ok
}

// Prefixes lists the registered prefixes in sorted order.
func (s *State) Prefixes() []string {
	out := make([]string, 0, len(s.runtime))
	for prefix := range s.runtime {
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}

// Configs returns the configs this state was built from.
func (s *State) Configs() []*config.Config {
	return s.configs
}

// Metrics returns the counters collected during the build.
func (s *State) Metrics() Metrics {
	return s.metrics
}

// Close stops every transport owned by this state. Used on shutdown; during
// rebuilds ownership moves to the next state instead.
func (s *State) Close(ctx context.Context) {
	for prefix, rt := range s.runtime {
		if rt.Transport != nil && rt.Transport.IsRunning() {
			if err := rt.Transport.Stop(ctx); err != nil {
				logger.Warnw("failed to stop transport", "prefix", prefix, "error", err)
			}
		}
	}
}

// BuildFrom constructs a new State from the config list. old, when non-nil,
// donates transports for MCP servers whose definition is unchanged; its
// remaining transports for prefixes that disappeared are stopped. Per-prefix
// failures are logged and skipped so one bad backend cannot blank the
// gateway.
func BuildFrom(ctx context.Context, configs []*config.Config, old *State, renderer *template.Renderer) (*State, error) {
	s := &State{
		configs: configs,
		runtime: make(map[string]*Runtime),
	}

	for _, cfg := range configs {
		if err := cfg.CheckTenantPrefix("/" + cfg.Tenant); err != nil {
			logger.Errorw("rejecting config with out-of-tenant router", "config", cfg.Key(), "error", err)
			continue
		}

		tools := make(map[string]*config.Tool, len(cfg.Tools))
		for i := range cfg.Tools {
			tools[cfg.Tools[i].Name] = &cfg.Tools[i]
		}
		s.metrics.TotalTools += len(cfg.Tools)

		prefixMap := s.buildPrefixMap(cfg)
		s.processHTTPServers(ctx, cfg, prefixMap, tools, renderer)
		s.processMCPServers(ctx, cfg, prefixMap, old)
	}

	if old != nil {
		s.cleanupUnusedTransports(ctx, old)
	}

	logger.Infow("state built",
		"prefixes", len(s.runtime),
		"total_tools", s.metrics.TotalTools,
		"http_servers", s.metrics.HTTPServers,
		"mcp_servers", s.metrics.MCPServers,
		"missing_tools", s.metrics.MissingTools)
	return s, nil
}

// buildPrefixMap registers every router and maps server name → prefixes.
func (s *State) buildPrefixMap(cfg *config.Config) map[string][]string {
	prefixMap := make(map[string][]string)
	for i := range cfg.Routers {
		router := &cfg.Routers[i]
		if slices.Contains(prefixMap[router.Server], router.Prefix) {
			continue
		}
		prefixMap[router.Server] = append(prefixMap[router.Server], router.Prefix)

		s.ensureRuntime(router.Prefix).Router = router
		logger.Infow("registered router",
			"tenant", cfg.Tenant, "prefix", router.Prefix, "server", router.Server)
	}
	return prefixMap
}

func (s *State) ensureRuntime(prefix string) *Runtime {
	rt, ok := s.runtime[prefix]
	if !ok {
		rt = &Runtime{BackendProto: ProtoHTTP}
		s.runtime[prefix] = rt
	}
	return rt
}

func (s *State) processHTTPServers(ctx context.Context, cfg *config.Config, prefixMap map[string][]string, tools map[string]*config.Tool, renderer *template.Renderer) {
	s.metrics.HTTPServers += len(cfg.HTTPServers)

	for i := range cfg.HTTPServers {
		server := &cfg.HTTPServers[i]
		prefixes := prefixMap[server.Name]
		if len(prefixes) == 0 {
			s.metrics.IdleHTTPServers++
			logger.Warnw("no router bound to http server", "server", server.Name)
			continue
		}

		allowed, order := s.buildAllowedTools(server, tools)
		tr := transport.NewHTTPTransport(server, allowed, order, renderer)
		schemas, err := tr.FetchTools(ctx)
		if err != nil {
			logger.Errorw("failed to build tool schemas", "server", server.Name, "error", err)
			schemas = nil
		}

		for _, prefix := range prefixes {
			rt := s.ensureRuntime(prefix)
			rt.BackendProto = ProtoHTTP
			rt.HTTPServer = server
			rt.Tools = allowed
			rt.ToolSchemas = schemas
			rt.Transport = tr
		}
	}
}

// buildAllowedTools intersects the server's declared tool names with the
// config's tool definitions, preserving declaration order. Dangling names
// count as missing.
func (s *State) buildAllowedTools(server *config.HTTPServer, tools map[string]*config.Tool) (map[string]*config.Tool, []string) {
	allowed := make(map[string]*config.Tool)
	order := make([]string, 0, len(server.Tools))
	for _, name := range server.Tools {
		tool, ok := tools[name]
		if !ok {
			s.metrics.MissingTools++
			logger.Warnw("tool not found for server", "server", server.Name, "tool", name)
			continue
		}
		allowed[name] = tool
		order = append(order, name)
	}
	return allowed, order
}

func (s *State) processMCPServers(ctx context.Context, cfg *config.Config, prefixMap map[string][]string, old *State) {
	s.metrics.MCPServers += len(cfg.Servers)

	for i := range cfg.Servers {
		server := &cfg.Servers[i]
		prefixes := prefixMap[server.Name]
		if len(prefixes) == 0 {
			s.metrics.IdleMCPServers++
			logger.Warnw("no router bound to mcp server", "server", server.Name)
			continue
		}

		for _, prefix := range prefixes {
			tr, err := s.transportFor(server, prefix, old)
			if err != nil {
				logger.Errorw("failed to create mcp runtime", "error", (&BuildStateError{
					Tenant: cfg.Tenant,
					Server: server.Name,
					Prefix: prefix,
					Kind:   "transport_creation_failed",
					Err:    err,
				}).Error())
				continue
			}

			rt := s.ensureRuntime(prefix)
			rt.BackendProto = protoFor(server)
			rt.MCPServer = server
			rt.Transport = tr

			s.handleStartup(ctx, server, prefix, tr)
		}
	}
}

// transportFor reuses the old state's transport when the prefix pointed at
// an identical backend definition, otherwise creates a fresh one.
func (s *State) transportFor(server *config.MCPServer, prefix string, old *State) (transport.Transport, error) {
	if old != nil {
		if oldRT, ok := old.runtime[prefix]; ok && oldRT.MCPServer != nil && oldRT.Transport != nil {
			if sameBackend(oldRT.MCPServer, server) {
				logger.Infow("reusing transport", "server", server.Name, "prefix", prefix)
				return oldRT.Transport, nil
			}
		}
	}
	return transport.New(server)
}

func sameBackend(a, b *config.MCPServer) bool {
	return a.Type == b.Type &&
		a.Command == b.Command &&
		a.URL == b.URL &&
		slices.Equal(a.Args, b.Args)
}

func protoFor(server *config.MCPServer) BackendProto {
	switch server.Type {
	case config.MCPServerTypeSSE:
		return ProtoSSE
	case config.MCPServerTypeStdio:
		return ProtoStdio
	case config.MCPServerTypeStreamable:
		return ProtoStreamable
	default:
		return ProtoHTTP
	}
}

// handleStartup applies the server's startup policy: on_start keeps the
// transport running, preinstalled starts and stops it as a liveness check.
// Failures are logged; the runtime still serves on-demand.
func (s *State) handleStartup(ctx context.Context, server *config.MCPServer, prefix string, tr transport.Transport) {
	switch {
	case server.Policy == config.PolicyOnStart:
		if tr.IsRunning() {
			return
		}
		if err := tr.Start(ctx); err != nil {
			logger.Errorw("failed to start mcp server",
				"server", server.Name, "prefix", prefix, "error", err)
			return
		}
		logger.Infow("started mcp server", "server", server.Name, "policy", config.PolicyOnStart)
	case server.Preinstalled:
		if tr.IsRunning() {
			return
		}
		if err := tr.Start(ctx); err != nil {
			logger.Errorw("failed to verify preinstalled mcp server",
				"server", server.Name, "prefix", prefix, "error", err)
			return
		}
		if err := tr.Stop(ctx); err != nil {
			logger.Warnw("failed to stop mcp server after verification",
				"server", server.Name, "error", err)
			return
		}
		logger.Infow("verified preinstalled mcp server", "server", server.Name)
	}
}

// cleanupUnusedTransports stops old transports the new state did not take
// over: prefixes that disappeared, and prefixes whose backend definition
// changed so a fresh transport replaced the old one.
func (s *State) cleanupUnusedTransports(ctx context.Context, old *State) {
	for prefix, oldRT := range old.runtime {
		if oldRT.MCPServer == nil || oldRT.Transport == nil {
			continue
		}
		if newRT, kept := s.runtime[prefix]; kept && newRT.Transport == oldRT.Transport {
			continue
		}
		logger.Infow("shutting down unused transport", "prefix", prefix, "server", oldRT.MCPServer.Name)
		if err := oldRT.Transport.Stop(ctx); err != nil {
			logger.Warnw("failed to stop old transport", "prefix", prefix, "error", err)
		}
	}
}
