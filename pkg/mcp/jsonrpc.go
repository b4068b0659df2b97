// Package mcp implements the JSON-RPC 2.0 dispatch layer of the tool
// protocol: envelope parsing, method routing and error mapping.
package mcp

import (
	"encoding/json"

	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
)

// Version is the JSON-RPC protocol version.
const Version = "2.0"

// Protocol-level error codes. Tool and admission failures use the
// application codes carried by the errors package.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternal       = -32603
)

// Request is an inbound JSON-RPC envelope. The id is kept raw so string and
// numeric identifiers echo back unchanged.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// CallParams is the params shape of a tool invocation.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ErrorObject is the JSON-RPC error member.
type ErrorObject struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Response is an outbound JSON-RPC envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// NewResult builds a success response. The result must be JSON-encodable.
func NewResult(id json.RawMessage, result any) *Response {
	body, err := json.Marshal(result)
	if err != nil {
		return NewError(id, apperrors.NewInternal("failed to encode result", err))
	}
	return &Response{JSONRPC: Version, Result: body, ID: normaliseID(id)}
}

// NewRawResult builds a success response from pre-encoded JSON.
func NewRawResult(id json.RawMessage, result json.RawMessage) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: normaliseID(id)}
}

// NewError maps an error to a response envelope using the application
// taxonomy; unclassified errors surface as internal.
func NewError(id json.RawMessage, err error) *Response {
	appErr := apperrors.Classify(err)
	return &Response{
		JSONRPC: Version,
		Error: &ErrorObject{
			Code:    appErr.Code(),
			Message: appErr.Message,
			Data:    appErr.Data,
		},
		ID: normaliseID(id),
	}
}

// NewProtocolError builds a response for protocol-level failures that happen
// before an application error exists.
func NewProtocolError(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   &ErrorObject{Code: code, Message: message},
		ID:      normaliseID(id),
	}
}

// normaliseID maps an absent id to explicit null so the error envelope for
// an unparseable request is well-formed.
func normaliseID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
