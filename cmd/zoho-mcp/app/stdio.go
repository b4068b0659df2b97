package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/config"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/transport"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Start the stdio transport",
	Long: `Starts the stdio transport: newline-delimited JSON-RPC envelopes on
stdin, responses on stdout, logs on stderr. The stream is inherently local,
so there is no admission gate and no webhook ingestion.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(false); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		d, err := buildDeps(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.store.Close()

		return transport.NewStdioServer(d.dispatcher, os.Stdin, os.Stdout).Serve(ctx)
	},
}
