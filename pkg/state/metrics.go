package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the counters collected during one state build.
type Metrics struct {
	TotalTools      int
	HTTPServers     int
	MCPServers      int
	IdleHTTPServers int
	IdleMCPServers  int
	MissingTools    int
}

var (
	totalToolsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_state_total_tools",
		Help: "Number of tools declared across all configs.",
	})
	httpServersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_state_http_servers",
		Help: "Number of configured HTTP servers.",
	})
	mcpServersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_state_mcp_servers",
		Help: "Number of configured MCP servers.",
	})
	idleHTTPServersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_state_idle_http_servers",
		Help: "HTTP servers with no router bound to them.",
	})
	idleMCPServersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_state_idle_mcp_servers",
		Help: "MCP servers with no router bound to them.",
	})
	missingToolsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_state_missing_tools",
		Help: "Tool references that resolve to no tool definition.",
	})
)

// Publish pushes the build counters to the process gauges.
func (m Metrics) Publish() {
	totalToolsGauge.Set(float64(m.TotalTools))
	httpServersGauge.Set(float64(m.HTTPServers))
	mcpServersGauge.Set(float64(m.MCPServers))
	idleHTTPServersGauge.Set(float64(m.IdleHTTPServers))
	idleMCPServersGauge.Set(float64(m.IdleMCPServers))
	missingToolsGauge.Set(float64(m.MissingTools))
}
