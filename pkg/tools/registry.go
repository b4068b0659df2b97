// Package tools declares the tool surface exposed to assistants: a closed
// registry of descriptors, a schema-driven validator and the handlers that
// compose upstream calls.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/cache"
	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
)

// ParamType tags a declared parameter.
type ParamType string

// Parameter type tags.
const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeDate    ParamType = "date"
	TypeEnum    ParamType = "enum"
	TypeBase64  ParamType = "base64"
)

// Param declares one named parameter of a tool.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`

	// Enum is the closed value set for TypeEnum parameters.
	Enum []string `json:"enum,omitempty"`
}

// Descriptor declares a tool: its contract is immutable after registration
// and mirrored verbatim in the advertised manifest.
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`

	// Mutating marks write tools; their results are never cached.
	Mutating bool `json:"mutating"`

	// CacheTTL is the result lifetime for read tools. Zero disables caching.
	CacheTTL time.Duration `json:"-"`
}

// Handler executes a validated tool invocation and returns the JSON result.
type Handler func(ctx context.Context, args map[string]any) (json.RawMessage, error)

type registration struct {
	desc    Descriptor
	handler Handler
}

// defaultHandlerTimeout bounds one tool execution end to end, above the
// per-upstream-call timeout and below the transport deadline.
const defaultHandlerTimeout = 30 * time.Second

// Registry is the closed set of tools bound at startup. Immutable after
// construction, safe for concurrent use.
type Registry struct {
	cache *cache.Cache
	order []string
	tools map[string]registration

	handlerTimeout  time.Duration
	cacheTTLCeiling time.Duration
}

// NewRegistry creates an empty registry. Read results are memoized through
// the given cache; pass nil to disable caching entirely.
func NewRegistry(c *cache.Cache) *Registry {
	return &Registry{
		cache:          c,
		tools:          make(map[string]registration),
		handlerTimeout: defaultHandlerTimeout,
	}
}

// SetHandlerTimeout overrides the per-invocation execution bound.
// Non-positive values are ignored.
func (r *Registry) SetHandlerTimeout(d time.Duration) {
	if d > 0 {
		r.handlerTimeout = d
	}
}

// SetCacheTTLCeiling caps every tool's declared cache TTL. Zero leaves the
// declared TTLs untouched.
func (r *Registry) SetCacheTTLCeiling(d time.Duration) {
	if d > 0 {
		r.cacheTTLCeiling = d
	}
}

// Register binds a descriptor to its handler. Names must be unique.
func (r *Registry) Register(desc Descriptor, h Handler) error {
	if desc.Name == "" {
		return fmt.Errorf("tool descriptor has no name")
	}
	if h == nil {
		return fmt.Errorf("tool %s has no handler", desc.Name)
	}
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("tool %s is already registered", desc.Name)
	}
	r.order = append(r.order, desc.Name)
	r.tools[desc.Name] = registration{desc: desc, handler: h}
	return nil
}

// Descriptors returns the advertised manifest in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].desc)
	}
	return out
}

// Lookup returns the descriptor for a registered tool.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	reg, ok := r.tools[name]
	return reg.desc, ok
}

// Invoke validates the arguments and executes the named tool. Read tools are
// served from the cache when a fresh entry exists; errors are never cached.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	reg, ok := r.tools[name]
	if !ok {
		return nil, apperrors.NewInvalidParams(fmt.Sprintf("unknown tool: %s", name), "name")
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := Validate(reg.desc, args); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.handlerTimeout)
	defer cancel()

	run := func() (json.RawMessage, error) { return reg.handler(ctx, args) }

	var result json.RawMessage
	var err error
	if reg.desc.Mutating || r.cache == nil {
		result, err = run()
	} else {
		ttl := reg.desc.CacheTTL
		if r.cacheTTLCeiling > 0 && ttl > r.cacheTTLCeiling {
			ttl = r.cacheTTLCeiling
		}
		result, err = cachedResult(ctx, r.cache, name, args, ttl, run)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewTimeout("tool execution exceeded the handler deadline", err)
		}
		return nil, err
	}
	return result, nil
}

// cachedResult wraps one read invocation in a cache lookup. Shared with the
// summary handler, whose constituent reads memoize under the listTasks key
// space so direct and derived callers hit the same entries.
func cachedResult(
	ctx context.Context,
	c *cache.Cache,
	tool string,
	args map[string]any,
	ttl time.Duration,
	fn func() (json.RawMessage, error),
) (json.RawMessage, error) {
	if entry, ok := c.Get(ctx, tool, args); ok {
		logger.Debugf("Cache hit for %s", tool)
		return entry.Body, nil
	}
	body, err := fn()
	if err != nil {
		return nil, err
	}
	c.Set(ctx, tool, args, &cache.Entry{Body: body, ContentType: "application/json"}, ttl)
	return body, nil
}
