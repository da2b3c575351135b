package wire

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// JSON-RPC error codes used by the gateway.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeUnauthorized is the gateway's application-level denial code.
	CodeUnauthorized = -32001
)

// Encode serializes a JSON-RPC message to its wire format.
func Encode(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// Decode deserializes JSON-RPC wire data into a *jsonrpc.Request or
// *jsonrpc.Response depending on content.
func Decode(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// ErrorResponse builds a JSON-RPC error response. Built as a raw map
// because the SDK's ID type does not round-trip through interface{}; the
// raw ID bytes are embedded unchanged.
func ErrorResponse(id json.RawMessage, code int, message string, data map[string]any) []byte {
	errObj := map[string]any{
		"code":    code,
		"message": message,
	}
	if len(data) > 0 {
		errObj["data"] = data
	}
	resp := map[string]any{
		"jsonrpc": "2.0",
		"error":   errObj,
		"id":      rawOrNull(id),
	}
	b, _ := json.Marshal(resp)
	return b
}

// ResultResponse builds a JSON-RPC success response carrying result.
func ResultResponse(id json.RawMessage, result any) []byte {
	resp := map[string]any{
		"jsonrpc": "2.0",
		"result":  result,
		"id":      rawOrNull(id),
	}
	b, _ := json.Marshal(resp)
	return b
}

func rawOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
