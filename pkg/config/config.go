// Package config defines the declarative, tenant-scoped gateway configuration:
// routers, backend servers, and tool definitions. A Config is uniquely keyed
// by (tenant, name).
package config

import (
	"fmt"
	"strings"
)

// MCPServerType enumerates the supported backend MCP server transports.
type MCPServerType string

const (
	// MCPServerTypeSSE is an upstream MCP server reached over HTTP+SSE.
	MCPServerTypeSSE MCPServerType = "sse"
	// MCPServerTypeStdio is an MCP server launched as a local subprocess.
	MCPServerTypeStdio MCPServerType = "stdio"
	// MCPServerTypeStreamable is an upstream MCP server reached over Streamable-HTTP.
	MCPServerTypeStreamable MCPServerType = "streamable"
)

// Policy controls when an MCP server's transport is started.
type Policy string

const (
	// PolicyOnStart starts the transport during the state build and keeps it running.
	PolicyOnStart Policy = "on_start"
	// PolicyOnDemand opens the transport per operation and closes it after.
	PolicyOnDemand Policy = "on_demand"
)

// ArgPosition says where a tool argument is placed in the outbound request.
type ArgPosition string

const (
	// ArgPositionQuery places the argument in the URL query string.
	ArgPositionQuery ArgPosition = "query"
	// ArgPositionHeader places the argument in a request header.
	ArgPositionHeader ArgPosition = "header"
	// ArgPositionPath inlines the argument into the path template.
	ArgPositionPath ArgPosition = "path"
	// ArgPositionBody places the argument in the request body.
	ArgPositionBody ArgPosition = "body"
)

// CORS is the per-router CORS policy applied by the dispatcher.
type CORS struct {
	AllowOrigins     []string `yaml:"allow_origins" json:"allow_origins"`
	AllowCredentials bool     `yaml:"allow_credentials" json:"allow_credentials"`
	AllowMethods     []string `yaml:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string `yaml:"expose_headers" json:"expose_headers"`
}

// Router binds a URL path prefix to a named server within the same Config.
// SSEPrefix, when set, is the external path prefix advertised in SSE
// `endpoint` events for reverse-proxy deployments.
type Router struct {
	Prefix    string `yaml:"prefix" json:"prefix"`
	Server    string `yaml:"server" json:"server"`
	SSEPrefix string `yaml:"sse_prefix" json:"sse_prefix"`
	CORS      *CORS  `yaml:"cors,omitempty" json:"cors,omitempty"`
}

// HTTPServer is a REST backend driven by per-tool request templates.
type HTTPServer struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	URL         string   `yaml:"url" json:"url"`
	Tools       []string `yaml:"tools" json:"tools"`
}

// MCPServer is a backend MCP server: a stdio subprocess or an upstream
// SSE/streamable endpoint.
type MCPServer struct {
	Name         string        `yaml:"name" json:"name"`
	Type         MCPServerType `yaml:"type" json:"type"`
	Description  string        `yaml:"description" json:"description"`
	Command      string        `yaml:"command" json:"command"`
	URL          string        `yaml:"url" json:"url"`
	Args         []string      `yaml:"args" json:"args"`
	Policy       Policy        `yaml:"policy" json:"policy"`
	Preinstalled bool          `yaml:"preinstalled" json:"preinstalled"`
}

// ToolArg describes one argument of a templated HTTP tool.
type ToolArg struct {
	Name     string `yaml:"name" json:"name"`
	Position string `yaml:"position" json:"position"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
	Default  string `yaml:"default,omitempty" json:"default,omitempty"`
	// Items describes the element schema for array-typed arguments.
	Items map[string]any `yaml:"items,omitempty" json:"items,omitempty"`
}

// Tool maps an MCP tool onto an outbound REST request via templates.
// Path, Headers, RequestBody and ResponseBody may contain `{{…}}` template
// expressions evaluated against {args, config, request, response}.
type Tool struct {
	Name         string            `yaml:"name" json:"name"`
	Description  string            `yaml:"description" json:"description"`
	Method       string            `yaml:"method" json:"method"`
	Path         string            `yaml:"path" json:"path"`
	Headers      map[string]string `yaml:"headers" json:"headers"`
	Args         []ToolArg         `yaml:"args" json:"args"`
	RequestBody  string            `yaml:"request_body" json:"request_body"`
	ResponseBody string            `yaml:"response_body" json:"response_body"`
	InputSchema  map[string]any    `yaml:"input_schema" json:"input_schema"`
}

// Config is the tenant-scoped bundle of routers, servers, and tools.
type Config struct {
	Name        string       `yaml:"name" json:"name"`
	Tenant      string       `yaml:"tenant" json:"tenant"`
	Routers     []Router     `yaml:"routers" json:"routers"`
	Servers     []MCPServer  `yaml:"servers" json:"servers"`
	HTTPServers []HTTPServer `yaml:"http_servers" json:"http_servers"`
	Tools       []Tool       `yaml:"tools" json:"tools"`
}

// Validate checks internal referential integrity: every router must name a
// server declared in the same Config, and server types must be known.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if c.Tenant == "" {
		return fmt.Errorf("config %s: tenant is required", c.Name)
	}

	names := make(map[string]struct{}, len(c.Servers)+len(c.HTTPServers))
	for _, s := range c.Servers {
		switch s.Type {
		case MCPServerTypeSSE, MCPServerTypeStdio, MCPServerTypeStreamable:
		default:
			return fmt.Errorf("config %s: server %s has unknown type %q", c.Name, s.Name, s.Type)
		}
		names[s.Name] = struct{}{}
	}
	for _, s := range c.HTTPServers {
		names[s.Name] = struct{}{}
	}

	for _, r := range c.Routers {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("config %s: router prefix %q must start with /", c.Name, r.Prefix)
		}
		if _, ok := names[r.Server]; !ok {
			return fmt.Errorf("config %s: router %s references unknown server %q", c.Name, r.Prefix, r.Server)
		}
	}
	return nil
}

// CheckTenantPrefix verifies that every router prefix equals the tenant
// prefix or is a descendant of it. The admin collaborator enforces this at
// write time; the state build rejects violating configs defensively.
func (c *Config) CheckTenantPrefix(tenantPrefix string) error {
	tp := strings.TrimSuffix(tenantPrefix, "/")
	if !strings.HasPrefix(tp, "/") {
		tp = "/" + tp
	}
	for _, r := range c.Routers {
		if r.Prefix == tp {
			continue
		}
		if !strings.HasPrefix(r.Prefix, tp+"/") {
			return fmt.Errorf("config %s: router prefix %q escapes tenant prefix %q", c.Name, r.Prefix, tp)
		}
	}
	return nil
}

// Key returns the unique (tenant, name) identity of the config.
func (c *Config) Key() string {
	return c.Tenant + "/" + c.Name
}
