// Package zoho wraps the Zoho Projects and WorkDrive REST APIs behind an
// authenticated client with retry, backoff and error classification.
//
// Retries happen only here. Handlers compose client calls and attach domain
// context to the classified errors, but never re-interpret or retry them.
package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/zoho/oauth"
)

// API selects the upstream base URL for a call.
type API int

const (
	// Projects targets the Zoho Projects REST API.
	Projects API = iota
	// WorkDrive targets the Zoho WorkDrive REST API.
	WorkDrive
)

const (
	userAgent = "zoho-mcp-server/0.1.0"

	// maxAttempts bounds retries on network errors, 5xx and 429.
	maxAttempts = 3

	// retryAfterCap bounds how long an upstream Retry-After hint is honoured.
	retryAfterCap = 4 * time.Second

	// maxErrorBody bounds how much of an upstream body is retained for
	// error reporting.
	maxErrorBody = 64 << 10
)

// Config holds the upstream client configuration.
type Config struct {
	ProjectsBaseURL  string
	WorkDriveBaseURL string
	PortalID         string

	// RequestTimeout bounds each upstream call (default 10s).
	RequestTimeout time.Duration
}

// Response is a successful upstream response with its body fully read.
// Bodies are parsed lazily by callers; see JSON.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON returns a lazily-evaluated view over the response body.
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Client is the authenticated upstream HTTP client. Safe for concurrent use.
type Client struct {
	cfg    Config
	tokens *oauth.Manager
	http   *http.Client
}

// NewClient creates an upstream client that authenticates through the given
// token manager.
func NewClient(cfg Config, tokens *oauth.Manager) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		http:   &http.Client{}, // per-call timeout via context
	}
}

// PortalID returns the configured upstream tenant identifier.
func (c *Client) PortalID() string {
	return c.cfg.PortalID
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, api API, path string, query url.Values) (*Response, error) {
	return c.do(ctx, http.MethodGet, api, path, query, nil, "")
}

// PostJSON issues an authenticated POST with a JSON payload.
func (c *Client) PostJSON(ctx context.Context, api API, path string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewInternal("failed to encode request payload", err)
	}
	return c.do(ctx, http.MethodPost, api, path, nil, body, "application/json")
}

// PutJSON issues an authenticated PUT with a JSON payload.
func (c *Client) PutJSON(ctx context.Context, api API, path string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewInternal("failed to encode request payload", err)
	}
	return c.do(ctx, http.MethodPut, api, path, nil, body, "application/json")
}

// PostMultipart issues an authenticated multipart POST carrying one file part
// plus form fields. Used for WorkDrive uploads, which are bounded in size, so
// the body is buffered rather than streamed.
func (c *Client) PostMultipart(
	ctx context.Context,
	api API,
	path string,
	fields map[string]string,
	fileField, filename, fileContentType string,
	content []byte,
) (*Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, apperrors.NewInternal("failed to encode multipart field", err)
		}
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, filename))
	header.Set("Content-Type", fileContentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, apperrors.NewInternal("failed to encode multipart file", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, apperrors.NewInternal("failed to encode multipart file", err)
	}
	if err := mw.Close(); err != nil {
		return nil, apperrors.NewInternal("failed to finalise multipart body", err)
	}
	return c.do(ctx, http.MethodPost, api, path, nil, buf.Bytes(), mw.FormDataContentType())
}

// Ping performs an unauthenticated reachability probe against the Projects
// base URL. Any HTTP response counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ProjectsBaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) baseURL(api API) string {
	if api == WorkDrive {
		return c.cfg.WorkDriveBaseURL
	}
	return c.cfg.ProjectsBaseURL
}

// do performs the request with retry, backoff and classification.
func (c *Client) do(
	ctx context.Context,
	method string,
	api API,
	path string,
	query url.Values,
	body []byte,
	contentType string,
) (*Response, error) {
	target := strings.TrimSuffix(c.baseURL(api), "/") + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	requestID := uuid.NewString()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2
	bo.MaxInterval = 2 * time.Second

	authRetried := false
	attempt := 0

	for {
		attempt++

		resp, err := c.attempt(ctx, method, target, body, contentType)
		if err == nil && resp.StatusCode < 300 {
			return resp, nil
		}

		classified, retryable := c.classify(resp, err, requestID)

		// A first 401 forces one credential refresh and one immediate
		// retry outside the backoff budget; a second 401 is surfaced.
		if resp != nil && resp.StatusCode == http.StatusUnauthorized && !authRetried {
			authRetried = true
			attempt--
			logger.Warnw("Upstream rejected credential, forcing refresh",
				"request_id", requestID)
			if _, err := c.tokens.ForceRefresh(ctx); err != nil {
				return nil, err
			}
			continue
		}

		if !retryable || attempt >= maxAttempts {
			return nil, classified
		}

		delay := bo.NextBackOff()
		if hint := retryAfterHint(resp); hint > 0 {
			delay = min(hint, retryAfterCap)
		}
		logger.Debugw("Retrying upstream request",
			"request_id", requestID, "attempt", attempt, "delay", delay.String())
		select {
		case <-ctx.Done():
			return nil, apperrors.NewTimeout("request cancelled during retry backoff", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// attempt performs a single HTTP exchange with the per-call timeout applied.
func (c *Client) attempt(ctx context.Context, method, target string, body []byte, contentType string) (*Response, error) {
	token, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, target, reader)
	if err != nil {
		return nil, apperrors.NewInternal("failed to build upstream request", err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// classify maps a response or transport error to the client-facing taxonomy
// and reports whether the failure is retryable here.
func (c *Client) classify(resp *Response, err error, requestID string) (error, bool) {
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			// Token manager and encoding failures are already classified.
			return appErr, false
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.NewTimeout("upstream call exceeded deadline", err).
				WithData("request_id", requestID), true
		}
		if errors.Is(err, context.Canceled) {
			return apperrors.NewTimeout("upstream call cancelled", err).
				WithData("request_id", requestID), false
		}
		return apperrors.NewUpstreamUnavailable("upstream network error", err).
			WithData("request_id", requestID), true
	}

	status := resp.StatusCode
	message := upstreamMessage(resp.Body)
	attach := func(e *apperrors.Error) *apperrors.Error {
		e.WithData("upstream_status", status).WithData("request_id", requestID)
		if message != "" {
			e.WithData("upstream_message", message)
		}
		return e
	}

	switch {
	case status == http.StatusNotFound:
		return attach(apperrors.NewNotFound("upstream resource not found", nil)), false
	case status == http.StatusConflict:
		return attach(apperrors.NewConflict("upstream reported a conflict", nil)), false
	case status == http.StatusTooManyRequests:
		return attach(apperrors.NewUpstreamUnavailable("upstream rate limit exhausted", nil)), true
	case status >= 500:
		return attach(apperrors.NewUpstreamUnavailable(
			fmt.Sprintf("upstream failed with status %d", status), nil)), true
	default:
		// Remaining 4xx, including a second 401.
		return attach(apperrors.NewUpstreamRejected(
			fmt.Sprintf("upstream rejected the request with status %d", status), nil)), false
	}
}

// upstreamMessage probes the raw error body for a human-readable message
// without committing to a schema. Projects nests it under error.message,
// WorkDrive under errors.0.title.
func upstreamMessage(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	for _, probe := range []string{"error.message", "errors.0.title", "message", "error"} {
		if v := gjson.GetBytes(body, probe); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

func retryAfterHint(resp *Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
