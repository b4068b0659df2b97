package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/auth"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/config"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/transport"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/webhook"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP transport",
	Long: `Starts the HTTP transport: JSON-RPC on POST /mcp behind the admission
gate, webhook ingestion on POST /webhooks/zoho, plus unauthenticated /health
and /manifest endpoints.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate(true); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// Ensure the server shuts down gracefully on Ctrl+C.
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		d, err := buildDeps(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.store.Close()

		allowList, err := auth.NewAllowList(cfg.Security.AllowedIPs, cfg.Security.TestProfile)
		if err != nil {
			return fmt.Errorf("invalid allow-list: %w", err)
		}
		gate := auth.NewGate(
			auth.NewBearerVerifier([]byte(cfg.JWT.Secret), cfg.JWT.MaxLifetime),
			allowList,
			auth.NewRateLimiter(d.store, int64(cfg.RateLimit.Requests), cfg.RateLimit.Window),
			len(cfg.Security.TrustedProxies) > 0,
		)

		var hooks *webhook.Router
		if cfg.Webhook.Enabled {
			hooks = webhook.NewRouter([]byte(cfg.Webhook.Secret), d.store)
			hooks.On("task.updated", webhook.TaskUpdated)
		}

		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		logger.Infow("Starting server",
			"address", address,
			"portal", cfg.Zoho.PortalID,
			"webhooks", cfg.Webhook.Enabled,
		)
		return transport.ServeHTTP(ctx, address, transport.HTTPDeps{
			Dispatcher: d.dispatcher,
			Gate:       gate,
			Webhooks:   hooks,
			Registry:   d.registry,
			Store:      d.store,
			Tokens:     d.tokens,
			Upstream:   d.client,
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host address to bind the server to")
	serveCmd.Flags().IntVar(&servePort, "port", 8000, "Port to bind the server to")
}
