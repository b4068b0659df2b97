// Package oauth manages the short-lived Zoho access credential.
//
// The long-lived refresh token is supplied at boot and never changes. Access
// tokens are produced on demand and shared across replicas through the KV
// store; a create-if-absent lock guarantees that at most one refresh runs per
// refresh-timeout window no matter how many callers or replicas race.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/kv"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
)

// KV keys shared across replicas.
const (
	tokenKey = "zoho:access_token"
	lockKey  = "zoho:refresh_lock"
)

const (
	// minTokenTTL is the floor for the cached credential lifetime.
	minTokenTTL = 60 * time.Second

	// Contention backoff bounds while another holder refreshes.
	backoffInitial = 50 * time.Millisecond
	backoffMax     = 500 * time.Millisecond
)

// Sentinel causes carried inside credential-unavailable errors.
var (
	// ErrRefreshRejected means the upstream returned 4xx on refresh.
	// Terminal: the refresh token needs operator attention.
	ErrRefreshRejected = errors.New("token refresh rejected by upstream")

	// ErrRefreshTransient means the refresh failed with 5xx or a network error.
	ErrRefreshTransient = errors.New("transient token refresh failure")

	// ErrLockContention means no fresh credential appeared within the
	// refresh timeout while another holder held the lock.
	ErrLockContention = errors.New("refresh lock contention exceeded timeout")
)

// Config holds the token manager configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// TokenURL is the upstream token endpoint.
	TokenURL string

	// SafetyMargin treats a credential with less remaining lifetime as
	// expired (default 5m).
	SafetyMargin time.Duration

	// RefreshTimeout bounds a single refresh attempt and is the lock lease
	// duration (default 30s).
	RefreshTimeout time.Duration

	// CacheTTLCeiling caps the credential TTL in KV (default 55m).
	CacheTTLCeiling time.Duration
}

// Manager produces valid access tokens on demand, refreshing through the
// shared KV store when needed. Safe for concurrent use.
type Manager struct {
	store  kv.Store
	cfg    Config
	client *http.Client

	// holder names this instance in the refresh lock.
	holder string
}

// NewManager creates a token manager backed by the given KV store.
func NewManager(store kv.Store, cfg Config) *Manager {
	if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = 5 * time.Minute
	}
	if cfg.RefreshTimeout == 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	if cfg.CacheTTLCeiling == 0 {
		cfg.CacheTTLCeiling = 55 * time.Minute
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RefreshTimeout},
		holder: uuid.NewString(),
	}
}

// CurrentToken returns a valid access token, refreshing if necessary.
// Concurrent callers against an expired credential serialise through the
// refresh lock: one performs the upstream call, the rest wait for the new
// credential to appear in KV.
func (m *Manager) CurrentToken(ctx context.Context) (string, error) {
	deadline := time.Now().Add(m.cfg.RefreshTimeout)
	delay := backoffInitial

	for {
		token, err := m.store.Get(ctx, tokenKey)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, kv.ErrNotFound) {
			// Transient KV failure: treat as a miss but make it visible.
			logger.Warnf("Failed to read cached access token: %v", err)
		}

		acquired, err := m.store.SetNX(ctx, lockKey, m.holder, m.cfg.RefreshTimeout)
		if err != nil {
			logger.Warnf("Failed to acquire refresh lock: %v", err)
		} else if acquired {
			token, err := m.refresh(ctx)
			if delErr := m.store.Delete(ctx, lockKey); delErr != nil {
				logger.Warnf("Failed to release refresh lock: %v", delErr)
			}
			if err != nil {
				return "", err
			}
			return token, nil
		}

		// Another holder is refreshing: back off with jitter, then re-read.
		if time.Now().After(deadline) {
			return "", apperrors.NewCredentialUnavailable(
				"no credential became available within the refresh timeout", ErrLockContention)
		}
		if err := sleepJittered(ctx, delay); err != nil {
			return "", apperrors.NewTimeout("cancelled while waiting for credential", err)
		}
		if delay *= 2; delay > backoffMax {
			delay = backoffMax
		}
	}
}

// HasCachedToken reports whether a credential is currently cached, without
// triggering a refresh. Used by health reporting.
func (m *Manager) HasCachedToken(ctx context.Context) bool {
	_, err := m.store.Get(ctx, tokenKey)
	return err == nil
}

// Invalidate drops the cached credential so the next CurrentToken call
// refreshes. Used by the HTTP client after an upstream 401.
func (m *Manager) Invalidate(ctx context.Context) error {
	return m.store.Delete(ctx, tokenKey)
}

// ForceRefresh invalidates the cached credential and returns a fresh one.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	if err := m.Invalidate(ctx); err != nil {
		logger.Warnf("Failed to invalidate cached token: %v", err)
	}
	return m.CurrentToken(ctx)
}

// tokenResponse is the upstream token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
}

// refresh exchanges the refresh token for a new access credential and stores
// it in KV. Only called while holding the refresh lock.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	logger.Info("Refreshing Zoho access token")

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
		"refresh_token": {m.cfg.RefreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperrors.NewInternal("failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", apperrors.NewCredentialUnavailable("token endpoint unreachable",
			fmt.Errorf("%w: %w", ErrRefreshTransient, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperrors.NewCredentialUnavailable("failed to read token response",
			fmt.Errorf("%w: %w", ErrRefreshTransient, err))
	}

	var tr tokenResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &tr); err != nil {
			return "", apperrors.NewCredentialUnavailable("malformed token response",
				fmt.Errorf("%w: %w", ErrRefreshTransient, err))
		}
		// Zoho reports some grant failures as 200 with an error field.
		if tr.Error != "" || tr.AccessToken == "" {
			return "", apperrors.NewCredentialUnavailable(
				fmt.Sprintf("token refresh rejected: %s", tr.Error),
				ErrRefreshRejected)
		}
		m.cacheToken(ctx, tr)
		return tr.AccessToken, nil
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return "", apperrors.NewCredentialUnavailable(
			fmt.Sprintf("token refresh rejected with status %d", resp.StatusCode),
			ErrRefreshRejected)
	default:
		return "", apperrors.NewCredentialUnavailable(
			fmt.Sprintf("token refresh failed with status %d", resp.StatusCode),
			ErrRefreshTransient)
	}
}

// cacheToken stores the credential with a TTL that expires it before the
// upstream does: min(expiry - safety margin, configured ceiling), floored at
// one minute. A failed cache write is tolerated; the token is still returned.
func (m *Manager) cacheToken(ctx context.Context, tr tokenResponse) {
	ttl := time.Duration(tr.ExpiresIn)*time.Second - m.cfg.SafetyMargin
	if ttl > m.cfg.CacheTTLCeiling {
		ttl = m.cfg.CacheTTLCeiling
	}
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}
	if err := m.store.Set(ctx, tokenKey, tr.AccessToken, ttl); err != nil {
		logger.Warnf("Failed to cache access token: %v", err)
		return
	}
	logger.Debugf("Access token cached for %s", ttl)
}

func sleepJittered(ctx context.Context, d time.Duration) error {
	// +/-25% jitter to avoid thundering re-reads across replicas.
	jittered := d/2 + rand.N(d)
	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
