// Package transport exposes the dispatcher over its two carriers: an HTTP
// server for network callers and webhook deliveries, and a newline-delimited
// stream over standard input/output for co-located supervisors.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/auth"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/kv"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/mcp"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/tools"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/webhook"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/zoho"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/zoho/oauth"
)

const (
	requestTimeout    = 60 * time.Second
	readHeaderTimeout = 10 * time.Second

	// maxRPCBody bounds inbound envelopes. Upload payloads travel as
	// base64 inside JSON, so the cap sits above the 1 GiB decoded ceiling.
	maxRPCBody = 3 << 30

	maxWebhookBody = 1 << 20
)

// HTTPDeps are the collaborators of the network transport.
type HTTPDeps struct {
	Dispatcher *mcp.Dispatcher
	Gate       *auth.Gate
	Webhooks   *webhook.Router
	Registry   *tools.Registry
	Store      kv.Store
	Tokens     *oauth.Manager
	Upstream   *zoho.Client
}

// NewHTTPHandler assembles the network transport routes:
// POST /mcp (gated), POST /webhooks/zoho, GET /health and GET /manifest.
func NewHTTPHandler(deps HTTPDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)

	r.Post("/mcp", handleRPC(deps))
	if deps.Webhooks != nil {
		r.Post("/webhooks/zoho", handleWebhook(deps.Webhooks))
	}
	r.Get("/health", handleHealth(deps))
	r.Get("/manifest", handleManifest(deps.Registry))
	return r
}

// ServeHTTP runs the network transport until the context is cancelled.
// The caller sets up signal handling.
func ServeHTTP(ctx context.Context, address string, deps HTTPDeps) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           NewHTTPHandler(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting HTTP server on %s", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}

// handleRPC admits and dispatches one JSON-RPC envelope. Admission and
// protocol errors still ride a 200 response in the envelope; only transport
// faults surface as HTTP errors.
func handleRPC(deps HTTPDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCBody))
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		if _, err := deps.Gate.Admit(r); err != nil {
			// The envelope may be unparseable at this point; echo the id
			// on a best-effort basis.
			id := json.RawMessage(gjson.GetBytes(body, "id").Raw)
			writeResponse(w, mcp.NewError(id, err))
			return
		}

		resp := deps.Dispatcher.HandleRaw(r.Context(), body)
		if resp == nil {
			// Notification: acknowledged without a body.
			w.WriteHeader(http.StatusOK)
			return
		}
		writeResponse(w, resp)
	}
}

func writeResponse(w http.ResponseWriter, resp *mcp.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("Failed to write response: %v", err)
	}
}

// handleWebhook verifies and dispatches one upstream delivery. Handler-level
// failures are acknowledged with 200 to suppress redelivery storms; only
// verification and framing failures return error statuses.
func handleWebhook(router *webhook.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		sig := r.Header.Get(webhook.SignatureHeader)
		ts := r.Header.Get(webhook.TimestampHeader)
		if err := router.Verify(body, sig, ts); err != nil {
			logger.Warnf("Rejected webhook delivery: %v", err)
			http.Error(w, "signature verification failed", http.StatusUnauthorized)
			return
		}

		if err := router.Dispatch(r.Context(), body); err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth reports component health. Unauthenticated: it exposes nothing
// beyond reachability.
func handleHealth(deps HTTPDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{
			"kv":             "ok",
			"upstream_token": "ok",
			"upstream_api":   "ok",
		}
		degraded := false

		if err := deps.Store.Ping(ctx); err != nil {
			checks["kv"] = "unreachable"
			degraded = true
		}
		if !deps.Tokens.HasCachedToken(ctx) {
			// Not degraded: the next tool call refreshes on demand.
			checks["upstream_token"] = "not_cached"
		}
		if err := deps.Upstream.Ping(ctx); err != nil {
			checks["upstream_api"] = "unreachable"
			degraded = true
		}

		status := "ok"
		if degraded {
			status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{Status: status, Checks: checks})
	}
}

// handleManifest advertises the tool descriptors. Unauthenticated by design.
func handleManifest(registry *tools.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"tools": registry.Descriptors()})
	}
}
