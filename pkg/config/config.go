// Package config loads and validates the server configuration.
//
// Configuration comes from environment variables (via viper) with an optional
// config file. All knobs have defaults except the upstream credentials, the
// portal id, the bearer signing key and the KV endpoint, which are required
// at boot.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults for the tunable knobs.
const (
	DefaultProjectsBaseURL  = "https://projectsapi.zoho.com/restapi"
	DefaultWorkDriveBaseURL = "https://www.zohoapis.com/workdrive/api/v1"
	DefaultTokenURL         = "https://accounts.zoho.com/oauth/v2/token"

	DefaultRateLimitRequests = 100
	DefaultRateLimitWindow   = 60 * time.Second
	DefaultCacheTTL          = 300 * time.Second
	DefaultSafetyMargin      = 300 * time.Second
	DefaultRefreshTimeout    = 30 * time.Second
	DefaultBearerMaxLifetime = 24 * time.Hour
	DefaultRequestTimeout    = 10 * time.Second
	DefaultHandlerTimeout    = 30 * time.Second

	// MinBearerKeyLength is the floor for the HMAC signing key.
	MinBearerKeyLength = 32
)

// Config holds the full configuration surface of the server.
type Config struct {
	Zoho      ZohoConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Webhook   WebhookConfig
	Server    ServerConfig
}

// ZohoConfig holds the upstream API configuration.
type ZohoConfig struct {
	ClientID         string
	ClientSecret     string
	RefreshToken     string
	PortalID         string
	ProjectsBaseURL  string
	WorkDriveBaseURL string
	TokenURL         string
	SafetyMargin     time.Duration
	RefreshTimeout   time.Duration
	RequestTimeout   time.Duration
}

// JWTConfig holds the bearer verification configuration.
type JWTConfig struct {
	Secret string
	// MaxLifetime rejects tokens whose exp-iat span exceeds the ceiling,
	// regardless of what the signing policy emitted.
	MaxLifetime time.Duration
}

// RedisConfig holds the KV store connection configuration.
type RedisConfig struct {
	URL      string
	Password string
}

// SecurityConfig holds the admission gate configuration.
type SecurityConfig struct {
	AllowedIPs     []string
	TrustedProxies []string
	// TestProfile accepts the httptest sentinel peer address.
	TestProfile bool
}

// RateLimitConfig holds the fixed-window rate limit configuration.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// CacheConfig holds the response cache configuration.
type CacheConfig struct {
	// TTL is the ceiling for per-tool cache TTLs.
	TTL time.Duration
}

// WebhookConfig holds the webhook ingestion configuration.
type WebhookConfig struct {
	Secret  string
	Enabled bool
}

// ServerConfig holds the transport configuration.
type ServerConfig struct {
	Host string
	Port int

	// HandlerTimeout bounds one tool execution end to end, on both
	// transports.
	HandlerTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("zoho.projects_base_url", DefaultProjectsBaseURL)
	v.SetDefault("zoho.workdrive_base_url", DefaultWorkDriveBaseURL)
	v.SetDefault("zoho.token_url", DefaultTokenURL)
	v.SetDefault("zoho.safety_margin", DefaultSafetyMargin)
	v.SetDefault("zoho.refresh_timeout", DefaultRefreshTimeout)
	v.SetDefault("zoho.request_timeout", DefaultRequestTimeout)
	v.SetDefault("jwt.max_lifetime", DefaultBearerMaxLifetime)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("security.allowed_ips", "127.0.0.1,::1")
	v.SetDefault("ratelimit.requests", DefaultRateLimitRequests)
	v.SetDefault("ratelimit.window", DefaultRateLimitWindow)
	v.SetDefault("cache.ttl", DefaultCacheTTL)
	v.SetDefault("webhook.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.handler_timeout", DefaultHandlerTimeout)
}

// Load reads configuration from the environment and returns a validated Config.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Original deployments exported the credentials without a prefix.
	bindLegacyEnv(v)

	cfg := &Config{
		Zoho: ZohoConfig{
			ClientID:         v.GetString("zoho.client_id"),
			ClientSecret:     v.GetString("zoho.client_secret"),
			RefreshToken:     v.GetString("zoho.refresh_token"),
			PortalID:         v.GetString("zoho.portal_id"),
			ProjectsBaseURL:  v.GetString("zoho.projects_base_url"),
			WorkDriveBaseURL: v.GetString("zoho.workdrive_base_url"),
			TokenURL:         v.GetString("zoho.token_url"),
			SafetyMargin:     v.GetDuration("zoho.safety_margin"),
			RefreshTimeout:   v.GetDuration("zoho.refresh_timeout"),
			RequestTimeout:   v.GetDuration("zoho.request_timeout"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("jwt.secret"),
			MaxLifetime: v.GetDuration("jwt.max_lifetime"),
		},
		Redis: RedisConfig{
			URL:      v.GetString("redis.url"),
			Password: v.GetString("redis.password"),
		},
		Security: SecurityConfig{
			AllowedIPs:     splitList(v.GetString("security.allowed_ips")),
			TrustedProxies: splitList(v.GetString("security.trusted_proxies")),
			TestProfile:    v.GetBool("security.test_profile"),
		},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("ratelimit.requests"),
			Window:   v.GetDuration("ratelimit.window"),
		},
		Cache: CacheConfig{
			TTL: v.GetDuration("cache.ttl"),
		},
		Webhook: WebhookConfig{
			Secret:  v.GetString("webhook.secret"),
			Enabled: v.GetBool("webhook.enabled"),
		},
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			HandlerTimeout: v.GetDuration("server.handler_timeout"),
		},
	}

	return cfg, nil
}

func bindLegacyEnv(v *viper.Viper) {
	for key, env := range map[string]string{
		"zoho.client_id":     "ZOHO_CLIENT_ID",
		"zoho.client_secret": "ZOHO_CLIENT_SECRET",
		"zoho.refresh_token": "ZOHO_REFRESH_TOKEN",
		"zoho.portal_id":     "PORTAL_ID",
		"jwt.secret":         "JWT_SECRET",
		"redis.url":          "REDIS_URL",
		"redis.password":     "REDIS_PASSWORD",
		"webhook.secret":     "WEBHOOK_SECRET",
	} {
		// BindEnv only errors on an empty key list.
		_ = v.BindEnv(key, env)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the invariants that must hold before the server starts.
// needServe enables the checks that only apply to the network transport.
func (c *Config) Validate(needServe bool) error {
	if c.Zoho.ClientID == "" {
		return fmt.Errorf("zoho.client_id is required")
	}
	if c.Zoho.ClientSecret == "" {
		return fmt.Errorf("zoho.client_secret is required")
	}
	if c.Zoho.RefreshToken == "" {
		return fmt.Errorf("zoho.refresh_token is required")
	}
	if c.Zoho.PortalID == "" {
		return fmt.Errorf("zoho.portal_id is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if needServe {
		if len(c.JWT.Secret) < MinBearerKeyLength {
			return fmt.Errorf("jwt.secret must be at least %d bytes", MinBearerKeyLength)
		}
		if c.Webhook.Enabled && c.Webhook.Secret == "" {
			return fmt.Errorf("webhook.secret is required when webhooks are enabled")
		}
	}
	if c.RateLimit.Requests < 1 {
		return fmt.Errorf("ratelimit.requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be positive")
	}
	return nil
}
