// Package app provides the commands of the mcpgate gateway.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpgate/mcpgate/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mcpgate",
	DisableAutoGenTag: true,
	Short:             "mcpgate is a multi-tenant gateway for MCP servers",
	Long: `mcpgate is a multi-tenant gateway for MCP (Model Context Protocol) servers.
It terminates MCP client connections over SSE and Streamable-HTTP, routes each
session to a backend described by declarative configuration, and translates
tool calls into templated REST requests, stdio subprocesses, or upstream MCP
servers.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the mcpgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("Failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
