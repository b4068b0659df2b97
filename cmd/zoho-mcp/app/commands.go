// Package app provides the entry point for the zoho-mcp command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "zoho-mcp",
	DisableAutoGenTag: true,
	Short:             "zoho-mcp bridges assistants to Zoho Projects and WorkDrive",
	Long: `zoho-mcp is an MCP (Model Context Protocol) server that exposes Zoho
Projects tasks and Zoho WorkDrive files as a small set of typed tools over
JSON-RPC 2.0.

It speaks two transports: an HTTP server with bearer authentication, an IP
allow-list and per-principal rate limiting, and a newline-delimited stream
over stdin/stdout for co-located supervisors. Upstream credentials are
refreshed on demand and shared across replicas through Redis.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the zoho-mcp CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stdioCmd)
	rootCmd.AddCommand(newTokenCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}
