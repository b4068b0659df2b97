// Package webhook verifies and routes upstream-originated event deliveries:
// HMAC signature check over the raw body, timestamp window, replay
// suppression and fan-out to registered event handlers.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/kv"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
	SignatureHeader = "X-Zoho-Signature"

	// TimestampHeader optionally carries the delivery time as unix seconds.
	TimestampHeader = "X-Zoho-Timestamp"

	// timestampWindow bounds how far a supplied timestamp may drift.
	timestampWindow = 5 * time.Minute

	// dedupTTL is how long delivery ids are remembered for replay
	// suppression.
	dedupTTL = 5 * time.Minute

	dedupPrefix = "webhook:delivery:"
)

// Event is a decoded upstream delivery.
type Event struct {
	// ID is the delivery identifier used for replay suppression; empty
	// when the upstream did not supply one.
	ID string `json:"event_id"`

	// Type selects the registered handler, e.g. "task.updated".
	Type string `json:"event_type"`

	// Payload is the raw event body.
	Payload json.RawMessage `json:"-"`
}

// Handler processes one verified event. Errors are logged, not redelivered.
type Handler func(ctx context.Context, event Event) error

// Router verifies deliveries and fans them out to handlers by event type.
// Registration happens at startup; Dispatch is safe for concurrent use.
type Router struct {
	secret   []byte
	store    kv.Store
	handlers map[string]Handler
}

// NewRouter creates a webhook router with the given shared secret.
func NewRouter(secret []byte, store kv.Store) *Router {
	return &Router{
		secret:   secret,
		store:    store,
		handlers: make(map[string]Handler),
	}
}

// On registers the handler for an event type, replacing any previous one.
func (rt *Router) On(eventType string, h Handler) {
	rt.handlers[eventType] = h
}

// Verify checks the delivery signature and timestamp. The signature is a hex
// HMAC-SHA256 over the raw body, optionally prefixed "sha256=". Comparison
// is constant-time.
func (rt *Router) Verify(body []byte, signature, timestamp string) error {
	if signature == "" {
		return apperrors.NewUnauthorized("missing webhook signature", nil)
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, rt.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return apperrors.NewUnauthorized("webhook signature mismatch", nil)
	}

	if timestamp != "" {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return apperrors.NewUnauthorized("malformed webhook timestamp", nil)
		}
		drift := time.Since(time.Unix(unix, 0))
		if drift > timestampWindow || drift < -timestampWindow {
			return apperrors.NewUnauthorized("webhook timestamp outside the accepted window", nil)
		}
	}
	return nil
}

// Dispatch decodes a verified body and runs the matching handler. Replayed
// deliveries and unknown event types are acknowledged without effect.
func (rt *Router) Dispatch(ctx context.Context, body []byte) error {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return apperrors.NewInvalidParams("malformed webhook payload", "")
	}
	event.Payload = body

	if event.ID != "" && rt.seen(ctx, event.ID) {
		logger.Infow("Suppressing replayed webhook delivery", "event_id", event.ID)
		return nil
	}

	handler, ok := rt.handlers[event.Type]
	if !ok {
		logger.Warnw("No handler for webhook event", "event_type", event.Type)
		return nil
	}

	if err := handler(ctx, event); err != nil {
		// Acknowledged anyway: redelivery would fail the same way and
		// storms help nobody.
		logger.Errorw("Webhook handler failed", "event_type", event.Type, "error", err)
	}
	return nil
}

// seen records the delivery id, reporting true when it was already present.
// A KV failure counts as unseen; processing twice beats dropping.
func (rt *Router) seen(ctx context.Context, id string) bool {
	fresh, err := rt.store.SetNX(ctx, dedupPrefix+id, "1", dedupTTL)
	if err != nil {
		logger.Warnf("Webhook dedup store unavailable: %v", err)
		return false
	}
	return !fresh
}
