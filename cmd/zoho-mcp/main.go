// Package main is the entry point for the zoho-mcp server.
package main

import (
	"os"

	"github.com/zoho-mcp/zoho-mcp-server/cmd/zoho-mcp/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
