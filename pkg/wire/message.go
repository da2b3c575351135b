// Package wire provides JSON-RPC message types and codec utilities for
// the sqlward gateway transport.
package wire

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Message wraps a decoded JSON-RPC message with gateway metadata.
// It stores both the raw bytes and the decoded message so handlers can
// inspect params without re-parsing.
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Decoded contains the parsed JSON-RPC message.
	// The concrete type is either *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the message was received.
	Timestamp time.Time

	// Token contains the raw bearer token extracted from the message.
	// Extracted from JSON-RPC params by ExtractToken().
	Token string

	// ParsedParams contains the parsed params from a JSON-RPC request.
	// Set by ParseParams() for reuse across handlers. Nil if not a
	// request or parsing failed.
	ParsedParams map[string]any
}

// Wrap decodes raw JSON-RPC bytes into a Message stamped with the
// current time.
func Wrap(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	return &Message{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// IsRequest returns true if the message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// Request returns the underlying Request, or nil for non-requests.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Method returns the method name if this is a request, empty otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// IsToolCall returns true if this is a tools/call request.
func (m *Message) IsToolCall() bool {
	return m.Method() == "tools/call"
}

// ParseParams parses the request params and caches the result.
// Safe to call multiple times. Returns nil if this is not a request or
// parsing fails.
func (m *Message) ParseParams() map[string]any {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}

	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}

	var params map[string]any
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}

	m.ParsedParams = params
	return params
}

// ExtractToken extracts the bearer token from JSON-RPC params.
// The transport has no HTTP headers, so the token rides in the params.
// Locations, in priority order:
//  1. params._meta.token (metadata convention)
//  2. params.token (top-level for simpler clients)
//
// Returns empty string if not found; callers fall back to anonymous.
func (m *Message) ExtractToken() string {
	params := m.ParseParams()
	if params == nil {
		return ""
	}

	if meta, ok := params["_meta"].(map[string]any); ok {
		if token, ok := meta["token"].(string); ok && token != "" {
			return token
		}
	}

	if token, ok := params["token"].(string); ok {
		return token
	}

	return ""
}

// RawID extracts the request ID from the raw message bytes. The raw JSON
// value is returned unchanged so number, string, and null IDs all round-
// trip correctly. Returns nil if the message carries no ID.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}

	return raw["id"]
}
