package app

import (
	"context"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/cache"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/config"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/kv"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/mcp"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/tools"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/zoho"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/zoho/oauth"
)

// serverVersion is stamped at build time via -ldflags.
var serverVersion = "dev"

const serverName = "zoho-mcp-server"

// deps holds the wired core of the server, shared by both transports.
type deps struct {
	store      kv.Store
	tokens     *oauth.Manager
	client     *zoho.Client
	registry   *tools.Registry
	dispatcher *mcp.Dispatcher
}

// buildDeps connects the KV store and wires the tool registry and dispatcher.
// A KV store that cannot be reached at boot is an unrecoverable startup
// failure; the caller exits non-zero.
func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	store, err := kv.NewRedisStore(ctx, kv.RedisConfig{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
	})
	if err != nil {
		return nil, err
	}

	tokens := oauth.NewManager(store, oauth.Config{
		ClientID:       cfg.Zoho.ClientID,
		ClientSecret:   cfg.Zoho.ClientSecret,
		RefreshToken:   cfg.Zoho.RefreshToken,
		TokenURL:       cfg.Zoho.TokenURL,
		SafetyMargin:   cfg.Zoho.SafetyMargin,
		RefreshTimeout: cfg.Zoho.RefreshTimeout,
	})
	client := zoho.NewClient(zoho.Config{
		ProjectsBaseURL:  cfg.Zoho.ProjectsBaseURL,
		WorkDriveBaseURL: cfg.Zoho.WorkDriveBaseURL,
		PortalID:         cfg.Zoho.PortalID,
		RequestTimeout:   cfg.Zoho.RequestTimeout,
	}, tokens)

	registry, err := tools.NewDefaultRegistry(client, store, cache.New(store))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	registry.SetHandlerTimeout(cfg.Server.HandlerTimeout)
	registry.SetCacheTTLCeiling(cfg.Cache.TTL)

	return &deps{
		store:      store,
		tokens:     tokens,
		client:     client,
		registry:   registry,
		dispatcher: mcp.NewDispatcher(registry, serverName, serverVersion),
	}, nil
}
