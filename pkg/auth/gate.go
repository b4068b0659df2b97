package auth

import (
	"net/http"
	"strings"

	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
)

// Gate runs the three admission checks, each terminal on failure. Bearer
// verification comes first so the rate-limit principal is the stable token
// subject rather than a shared NAT address.
type Gate struct {
	verifier          *BearerVerifier
	allowList         *AllowList
	limiter           *RateLimiter
	trustProxyHeaders bool
}

// NewGate assembles the admission gate.
func NewGate(verifier *BearerVerifier, allowList *AllowList, limiter *RateLimiter, trustProxyHeaders bool) *Gate {
	return &Gate{
		verifier:          verifier,
		allowList:         allowList,
		limiter:           limiter,
		trustProxyHeaders: trustProxyHeaders,
	}
}

// Admit checks a request and returns the admitted principal. The returned
// error carries the client-facing kind (unauthorised, forbidden or
// rate-limited).
func (g *Gate) Admit(r *http.Request) (string, error) {
	token, ok := bearerFrom(r)
	if !ok {
		return "", apperrors.NewUnauthorized("missing bearer token", nil)
	}
	subject, err := g.verifier.Verify(token)
	if err != nil {
		return "", err
	}

	peer := ClientIP(r, g.trustProxyHeaders)
	if !g.allowList.Permits(peer) {
		return "", apperrors.NewForbidden("source address not allowed")
	}

	principal := subject
	if principal == "" {
		principal = peer
	}
	if err := g.limiter.Allow(r.Context(), principal); err != nil {
		return "", err
	}
	return principal, nil
}

func bearerFrom(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
