package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/tools"
)

// protocolVersion is the newest protocol revision this server speaks; the
// handshake echoes the client's requested revision when it names one.
const protocolVersion = "2024-11-05"

// Dispatcher routes JSON-RPC envelopes to the tool registry. The modern
// method names (tools/list, tools/call) and their legacy aliases (listTools,
// callTool) are both served.
type Dispatcher struct {
	registry      *tools.Registry
	serverName    string
	serverVersion string
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *tools.Registry, serverName, serverVersion string) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		serverName:    serverName,
		serverVersion: serverVersion,
	}
}

// HandleRaw processes one encoded envelope and returns the response, or nil
// for notifications. Panics in handlers are contained here so one bad
// request cannot take down the transport.
func (d *Dispatcher) HandleRaw(ctx context.Context, raw []byte) (resp *Response) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewProtocolError(nil, CodeParseError, "failed to parse JSON-RPC request")
	}
	return d.Handle(ctx, &req)
}

// Handle processes one decoded envelope.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Panic handling %s: %v", req.Method, r)
			resp = NewProtocolError(req.ID, CodeInternal, "internal error")
			if req.IsNotification() {
				resp = nil
			}
		}
	}()

	if req.JSONRPC != Version {
		return d.respond(req, NewProtocolError(req.ID, CodeInvalidRequest,
			"unsupported JSON-RPC version"))
	}

	switch req.Method {
	case "initialize":
		return d.respond(req, d.handleInitialize(req))
	case "ping":
		return d.respond(req, NewResult(req.ID, map[string]any{}))
	case "tools/list":
		return d.respond(req, d.handleToolsList(req))
	case "listTools":
		return d.respond(req, d.handleListTools(req))
	case "tools/call":
		return d.respond(req, d.handleCall(ctx, req, true))
	case "callTool":
		return d.respond(req, d.handleCall(ctx, req, false))
	case "resources/list":
		return d.respond(req, NewResult(req.ID, map[string]any{"resources": []any{}}))
	case "prompts/list":
		return d.respond(req, NewResult(req.ID, map[string]any{"prompts": []any{}}))
	case "initialized", "notifications/initialized":
		// Handshake acknowledgement; nothing to do.
		return d.respond(req, NewResult(req.ID, map[string]any{}))
	default:
		logger.Warnf("Unknown method: %s", req.Method)
		return d.respond(req, NewProtocolError(req.ID, CodeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method)))
	}
}

// respond suppresses responses to notifications, logging errors instead.
func (d *Dispatcher) respond(req *Request, resp *Response) *Response {
	if !req.IsNotification() {
		return resp
	}
	if resp != nil && resp.Error != nil {
		logger.Warnf("Error in notification %s: %s", req.Method, resp.Error.Message)
	}
	return nil
}

func (d *Dispatcher) handleInitialize(req *Request) *Response {
	version := protocolVersion
	if v := gjson.GetBytes(req.Params, "protocolVersion").String(); v != "" {
		version = v
	}
	return NewResult(req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    d.serverName,
			"version": d.serverVersion,
		},
	})
}

// handleToolsList advertises the registry in JSON Schema form.
func (d *Dispatcher) handleToolsList(req *Request) *Response {
	descs := d.registry.Descriptors()
	out := make([]map[string]any, 0, len(descs))
	for _, desc := range descs {
		out = append(out, map[string]any{
			"name":        desc.Name,
			"description": desc.Description,
			"inputSchema": inputSchema(desc),
		})
	}
	return NewResult(req.ID, map[string]any{"tools": out})
}

// handleListTools advertises the registry in descriptor form, as the
// manifest endpoint does.
func (d *Dispatcher) handleListTools(req *Request) *Response {
	return NewResult(req.ID, map[string]any{"tools": d.registry.Descriptors()})
}

// handleCall invokes one tool. The modern method wraps the result in content
// blocks; the legacy alias returns the bare result object.
func (d *Dispatcher) handleCall(ctx context.Context, req *Request, wrap bool) *Response {
	var params CallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewProtocolError(req.ID, CodeInvalidRequest, "malformed call params")
		}
	}
	if params.Name == "" {
		return NewProtocolError(req.ID, CodeInvalidRequest, "missing tool name")
	}

	logger.Infow("Executing tool", "tool", params.Name)
	result, err := d.registry.Invoke(ctx, params.Name, params.Arguments)
	if err != nil {
		logger.Warnw("Tool failed", "tool", params.Name, "error", err)
		return NewError(req.ID, err)
	}

	if !wrap {
		return NewRawResult(req.ID, result)
	}
	return NewResult(req.ID, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(result)},
		},
		"structuredContent": json.RawMessage(result),
	})
}

// inputSchema renders a descriptor's contract as a JSON Schema object.
func inputSchema(desc tools.Descriptor) map[string]any {
	properties := map[string]any{}
	required := []string{}
	for _, p := range desc.Params {
		prop := map[string]any{"type": schemaType(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Type == tools.TypeDate {
			prop["format"] = "date"
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func schemaType(t tools.ParamType) string {
	switch t {
	case tools.TypeInteger:
		return "integer"
	default:
		// Dates, enums and base64 payloads all travel as strings.
		return "string"
	}
}
